package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"dqx0.com/go/httpclient/httpx/internal/http1"
	"dqx0.com/go/httpclient/internal/obs"
)

// aLongTimeAgo is a deadline that has always passed; setting it aborts
// blocked I/O immediately.
var aLongTimeAgo = time.Unix(1, 0)

const maxInterimResponses = 8

type preparedHead struct {
	fields    Header
	gzip      bool // we asked for gzip and must decode it
	closeConn bool // caller asked for Connection: close
}

// roundTrip performs one hop: it leases a connection, writes req and
// reads the response head. The returned body is bound to the lease.
func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	proxyURL, err := resolveProxy(req)
	if err != nil {
		return nil, &InvalidURLError{URL: req.url.String(), Reason: "proxy from environment", Err: err}
	}
	key, err := endpointFor(req.url, proxyURL)
	if err != nil {
		return nil, &InvalidURLError{URL: req.url.String(), Reason: err.Error()}
	}
	head, err := c.prepareHead(ctx, req, key)
	if err != nil {
		return nil, err
	}
	body, err := req.body.reader()
	if err != nil {
		return nil, fmt.Errorf("%w: open body: %w", ErrInvalidRequest, err)
	}
	defer body.Close()

	conn, err := c.m.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.nc.SetDeadline(aLongTimeAgo) })
	fail := func(stage string, err error) (*Response, error) {
		stop()
		c.m.Release(conn, false)
		c.logf(obs.Warn, "%s %s: %s failed: %v", req.method, req.url, stage, err)
		c.meter.Counter("httpx_client_requests_error", 1, obs.Label{Key: "stage", Value: stage})
		if errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrHeaderTooLarge) {
			// The peer answered, just not in HTTP/1.1.
			return nil, fmt.Errorf("httpx: %s %s: %w", stage, key, err)
		}
		return nil, &ConnectionLostError{Key: key, Op: stage, Err: ctxErr(ctx, err)}
	}

	setWriteDeadlineWithContext(conn.nc, 0, ctx)
	if err := http1.WriteRequestHead(conn.bw, req.method, requestTarget(req.url, key), head.fields.fields()); err != nil {
		return fail("write", err)
	}
	if !req.body.IsZero() {
		if err := writeBody(conn.bw, body, req.body.Size()); err != nil {
			var src *bodySourceError
			if errors.As(err, &src) {
				stop()
				c.m.Release(conn, false)
				return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, src.err)
			}
			return fail("write", err)
		}
	}
	if err := conn.bw.Flush(); err != nil {
		return fail("write", err)
	}
	c.meter.Counter("httpx_client_requests_total", 1, obs.Label{Key: "method", Value: req.method})

	setReadDeadlineWithContext(conn.nc, req.responseTimeout, ctx)
	rd := &http1.Reader{BR: conn.br, MaxLineBytes: http1.DefaultMaxLineBytes, MaxHeaderBytes: http1.DefaultMaxHeaderBytes}
	var rh *http1.ResponseHead
	for i := 0; ; i++ {
		rh, err = rd.ReadResponseHead()
		if err != nil {
			return fail("read_headers", err)
		}
		if rh.StatusCode >= 200 || rh.StatusCode == 101 {
			break
		}
		if i >= maxInterimResponses {
			return fail("read_headers", fmt.Errorf("%w: too many interim responses", ErrProtocolViolation))
		}
	}
	if req.responseTimeout > 0 {
		resetReadDeadline(conn.nc, ctx)
	}
	framing, n, err := http1.ResponseFraming(req.method, rh)
	if err != nil {
		return fail("read_headers", err)
	}
	reuse := http1.KeepAlive(rh, framing) && !head.closeConn

	resp := &Response{
		Status:        fmt.Sprintf("%d %s", rh.StatusCode, rh.Reason),
		StatusCode:    rh.StatusCode,
		Proto:         rh.Proto,
		Header:        Header(rh.Fields),
		ContentLength: n,
		Request:       req,
	}
	c.meter.Counter("httpx_client_responses_total", 1, obs.Label{Key: "status", Value: itoaStatus(rh.StatusCode)})
	c.meter.Histogram("httpx_client_roundtrip_duration_ms", float64(time.Since(start).Milliseconds()),
		obs.Label{Key: "method", Value: req.method}, obs.Label{Key: "status", Value: itoaStatus(rh.StatusCode)})

	cb := &connBody{
		m:            c.m,
		conn:         conn,
		ctx:          ctx,
		stop:         stop,
		r:            http1.NewBodyReader(conn.br, framing, n, http1.DefaultMaxLineBytes),
		reuse:        reuse,
		drainLimit:   c.drainLimit,
		drainTimeout: c.drainTimeout,
	}
	if framing == http1.FramingNone {
		cb.release(reuse)
		cb.eof = true
		resp.Body = cb
		return resp, nil
	}
	conn.touch()
	conn.parked.Store(true)
	resp.Body = cb
	resp.raw = cb
	if head.gzip && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		resp.Body = &gzipBody{body: cb}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
	}
	return resp, nil
}

// prepareHead assembles the header block for one hop and validates it so
// that bad input never reaches a leased connection.
func (c *Client) prepareHead(ctx context.Context, req *Request, key EndpointKey) (preparedHead, error) {
	var p preparedHead
	if !http1.ValidMethod(req.method) {
		return p, fmt.Errorf("%w: method %q", ErrInvalidRequest, req.method)
	}
	h := make(Header, 0, len(req.header)+8)
	host := req.header.Get("Host")
	if host == "" {
		host = req.url.Host
	}
	h.Add("Host", host)
	for _, f := range req.header {
		switch strings.ToLower(f.Name) {
		case "host", "connection", "content-length", "transfer-encoding", "proxy-authorization":
			continue
		}
		h = append(h, f)
	}
	if c.userAgent != "" && !req.header.Has("User-Agent") {
		h.Add("User-Agent", c.userAgent)
	}
	if req.decompress && req.method != "HEAD" && !req.header.Has("Accept-Encoding") {
		h.Add("Accept-Encoding", "gzip")
		p.gzip = true
	}
	if !req.header.Has("X-Request-ID") {
		id, ok := RequestIDFrom(ctx)
		if !ok {
			id = genID()
		}
		h.Add("X-Request-ID", id)
	}
	if !req.header.Has("X-Correlation-ID") {
		if cid, ok := CorrelationIDFrom(ctx); ok {
			h.Add("X-Correlation-ID", cid)
		}
	}
	// Continue the trace carried by ctx, or start one.
	if !req.header.Has("Traceparent") {
		tr, ok := TraceFrom(ctx)
		if !ok || tr.TraceID == "" {
			tr = Trace{TraceID: genTraceID(), Flags: "01"}
		}
		h.Add("Traceparent", formatTraceparent(tr.TraceID, genSpanID(), tr.Flags))
		if st := tr.State.String(); st != "" && !req.header.Has("Tracestate") {
			h.Add("Tracestate", st)
		}
	}
	if key.forwarded() && key.Proxy.auth != "" {
		h.Add("Proxy-Authorization", key.Proxy.auth)
	}
	if strings.EqualFold(req.header.Get("Connection"), "close") {
		h.Add("Connection", "close")
		p.closeConn = true
	} else {
		h.Add("Connection", "keep-alive")
	}
	switch size := req.body.Size(); {
	case req.body.IsZero():
		if req.method == "POST" || req.method == "PUT" || req.method == "PATCH" {
			h.Add("Content-Length", "0")
		}
	case size >= 0:
		h.Add("Content-Length", fmt.Sprint(size))
	default:
		h.Add("Transfer-Encoding", "chunked")
	}
	if err := http1.ValidateFields(h.fields()); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	p.fields = h
	return p, nil
}

// requestTarget is the origin form, or the absolute form when the request
// is forwarded by an HTTP proxy.
func requestTarget(u *url.URL, key EndpointKey) string {
	if key.forwarded() {
		return absoluteURL(u)
	}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	return path
}

func absoluteURL(u *url.URL) string {
	// Build a full absolute URL without userinfo or fragment
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(u.EscapedPath())
	if u.Path == "" && u.RawPath == "" {
		b.WriteString("/")
	}
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// bodySourceError marks a failure reading the caller's body rather than
// writing to the connection.
type bodySourceError struct{ err error }

func (e *bodySourceError) Error() string { return e.err.Error() }

// writeBody streams src without buffering it whole. size < 0 selects
// chunked coding; otherwise exactly size bytes must be produced.
func writeBody(bw *bufio.Writer, src io.Reader, size int64) error {
	var dst io.Writer = bw
	var cw *http1.ChunkedWriter
	if size < 0 {
		cw = http1.NewChunkedWriter(bw)
		dst = cw
	} else {
		src = io.LimitReader(src, size)
	}
	buf := make([]byte, 32<<10)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &bodySourceError{err: rerr}
		}
	}
	if cw != nil {
		return cw.Close()
	}
	if written != size {
		return &bodySourceError{err: fmt.Errorf("body produced %d bytes, declared %d", written, size)}
	}
	return nil
}

// ctxErr prefers the context's error when cancellation caused err.
func ctxErr(ctx context.Context, err error) error {
	cerr := ctx.Err()
	if dl, ok := ctx.Deadline(); ok && cerr == nil && !time.Now().Before(dl) {
		// The socket deadline can fire just before the context timer.
		cerr = context.DeadlineExceeded
	}
	if cerr != nil && !errors.Is(err, cerr) {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}

// Helpers to apply deadlines from both explicit timeouts and request context
func setWriteDeadlineWithContext(c net.Conn, writeTO time.Duration, ctx context.Context) {
	var d time.Time
	if writeTO > 0 {
		d = time.Now().Add(writeTO)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d.IsZero() || dl.Before(d) {
			d = dl
		}
	}
	if !d.IsZero() {
		_ = c.SetWriteDeadline(d)
	}
}

func setReadDeadlineWithContext(c net.Conn, readTO time.Duration, ctx context.Context) {
	var d time.Time
	if readTO > 0 {
		d = time.Now().Add(readTO)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d.IsZero() || dl.Before(d) {
			d = dl
		}
	}
	if !d.IsZero() {
		_ = c.SetReadDeadline(d)
	}
}

func resetReadDeadline(c net.Conn, ctx context.Context) {
	dl, _ := ctx.Deadline()
	_ = c.SetReadDeadline(dl)
}

func itoaStatus(code int) string {
	return fmt.Sprint(code)
}
