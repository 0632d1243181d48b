// Command httpx-fetch performs HTTP requests through a shared connection
// pool and optionally reports how connections were reused.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dqx0.com/go/httpclient/httpx"
	"dqx0.com/go/httpclient/internal/obs"
)

// headerFlags collects repeated -H "Name: value" arguments.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q is not Name: value", v)
	}
	*h = append(*h, v)
	return nil
}

func main() {
	var headers headerFlags
	var (
		method    = flag.String("X", "", "Request method (default GET, or POST with -d)")
		data      = flag.String("d", "", "Request body; @path streams a file")
		maxRedirs = flag.Int("max-redirs", httpx.DefaultRedirectLimit, "Redirects to follow (0 disables)")
		proxy     = flag.String("proxy", "", "http:// proxy URL, \"none\" to ignore the environment")
		stream    = flag.Bool("stream", false, "Stream the body instead of buffering it")
		count     = flag.Int("n", 1, "Number of times to send the request")
		parallel  = flag.Int("parallel", 1, "Requests in flight at once")
		stats     = flag.Bool("stats", false, "Print pool and metric totals on exit")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall deadline")
		idle      = flag.Duration("idle-timeout", httpx.DefaultIdleTimeout, "Pool idle timeout")
		insecure  = flag.Bool("insecure", false, "Skip TLS certificate verification")
		output    = flag.String("o", "-", "Write the first response body here")
		logLevel  = flag.String("loglevel", "warn", "Log level (debug, info, warn, error)")
	)
	flag.Var(&headers, "H", "Request header, repeatable")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: httpx-fetch [flags] URL\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 || *count < 1 || *parallel < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	opts, err := requestOptions(*method, *data, *proxy, *maxRedirs, headers)
	if err != nil {
		logger.Error("bad arguments", "error", err)
		os.Exit(2)
	}
	req, err := httpx.ParseRequest(flag.Arg(0), opts...)
	if err != nil {
		logger.Error("bad URL", "error", err)
		os.Exit(2)
	}

	meter := obs.NewMemMeter()
	m := httpx.NewManager(
		httpx.WithIdleTimeout(*idle),
		httpx.WithTLSConfig(&tls.Config{InsecureSkipVerify: *insecure}),
		httpx.WithManagerLogger(obs.SlogLogger{L: logger, Attrs: []slog.Attr{slog.String("component", "pool")}}),
		httpx.WithMeter(meter),
	)
	defer m.Close()
	client := httpx.NewClient(m, httpx.WithLogger(obs.SlogLogger{L: logger, Attrs: []slog.Attr{slog.String("component", "client")}}))

	out, closeOut, err := openOutput(*output)
	if err != nil {
		logger.Error("open output", "error", err)
		os.Exit(1)
	}
	defer closeOut()

	// Only the first response body is written out.
	var once sync.Once
	sink := func() io.Writer {
		w := io.Discard
		once.Do(func() { w = out })
		return w
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i := 0; i < *count; i++ {
		g.Go(func() error {
			return fetchOne(gctx, client, req, *stream, sink(), logger)
		})
	}
	err = g.Wait()

	if *stats {
		printStats(os.Stderr, m.Stats(), meter.Snapshot())
	}
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			_, _ = out.Write(se.Response.Bytes())
		}
		logger.Error("request failed", "error", err)
		os.Exit(1)
	}
}

func fetchOne(ctx context.Context, c *httpx.Client, req *httpx.Request, stream bool, w io.Writer, logger *slog.Logger) error {
	start := time.Now()
	if stream {
		return c.WithResponse(ctx, req, func(resp *httpx.Response) error {
			n, err := io.Copy(w, resp.Body)
			logger.Info("response", "status", resp.StatusCode, "bytes", n, "elapsed", time.Since(start))
			return err
		})
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("response", "status", resp.StatusCode, "bytes", len(resp.Bytes()), "elapsed", time.Since(start))
	_, err = w.Write(resp.Bytes())
	return err
}

func requestOptions(method, data, proxy string, maxRedirs int, headers headerFlags) ([]httpx.Option, error) {
	var opts []httpx.Option
	for _, h := range headers {
		name, value, _ := strings.Cut(h, ":")
		opts = append(opts, httpx.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}
	if data != "" {
		body, err := bodyFromArg(data)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpx.WithBody(body))
		if method == "" {
			method = "POST"
		}
	}
	if method != "" {
		opts = append(opts, httpx.WithMethod(strings.ToUpper(method)))
	}
	opts = append(opts, httpx.WithRedirectLimit(maxRedirs))
	switch proxy {
	case "":
	case "none":
		opts = append(opts, httpx.WithoutProxy())
	default:
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}
		opts = append(opts, httpx.WithProxy(u))
	}
	return opts, nil
}

// bodyFromArg reads "@path" lazily so the file is streamed, and reopened
// if a redirect needs it again.
func bodyFromArg(arg string) (httpx.Body, error) {
	path, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return httpx.StringBody(arg), nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return httpx.NoBody, err
	}
	return httpx.StreamBody(func() (io.ReadCloser, error) { return os.Open(path) }, fi.Size()), nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func printStats(w io.Writer, s httpx.PoolStats, totals map[string]float64) {
	fmt.Fprintf(w, "pool: opened=%d reused=%d closed=%d idle=%d leased=%d\n",
		s.Opened, s.Reused, s.Closed, s.Idle, s.Leased)
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s %g\n", k, totals[k])
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
