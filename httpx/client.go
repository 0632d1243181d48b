package httpx

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"dqx0.com/go/httpclient/internal/obs"
)

const (
	// DefaultDrainLimit is how much of an unread body Close will read to
	// keep the connection reusable.
	DefaultDrainLimit   = 256 << 10
	DefaultDrainTimeout = 250 * time.Millisecond
	DefaultUserAgent    = "httpx/1.0"

	// DefaultErrorBodyLimit caps the body kept for a streamed response
	// rejected by its status policy.
	DefaultErrorBodyLimit = 1 << 20
)

// Client executes requests over the connections of one Manager. It holds
// no per-request state and is safe for concurrent use.
type Client struct {
	m            *Manager
	logger       obs.Logger
	meter        obs.Meter
	limiter      *rate.Limiter
	drainLimit   int64
	drainTimeout time.Duration
	userAgent    string
}

type ClientOption func(*Client)

// WithLogger overrides the logger inherited from the Manager.
func WithLogger(l obs.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRateLimit makes every hop, redirects included, wait for a token.
func WithRateLimit(limit float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithDrainLimit sets how many unread body bytes Close may discard to
// save a connection. Zero closes such connections outright.
func WithDrainLimit(n int64) ClientOption {
	return func(c *Client) { c.drainLimit = n }
}

func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.drainTimeout = d }
}

// WithUserAgent sets the User-Agent sent when a request has none. An empty
// string sends no User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient returns a Client bound to m. It panics if m is nil.
func NewClient(m *Manager, opts ...ClientOption) *Client {
	if m == nil {
		panic("httpx: NewClient called with nil Manager")
	}
	c := &Client{
		m:            m,
		logger:       m.logger,
		meter:        m.meter,
		drainLimit:   DefaultDrainLimit,
		drainTimeout: DefaultDrainTimeout,
		userAgent:    DefaultUserAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Manager returns the Manager the client leases connections from.
func (c *Client) Manager() *Manager { return c.m }

// Do executes req and reads the whole final body into memory. The
// connection is back in the pool, or closed, by the time Do returns.
//
// A final status rejected by the request's status policy yields a
// *StatusError whose Response is still readable.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.buffer(); err != nil {
		return nil, err
	}
	if !req.statusPolicy(resp.StatusCode) {
		return nil, &StatusError{Code: resp.StatusCode, Response: resp}
	}
	return resp, nil
}

// Stream executes req and returns as soon as the final response head has
// been read. The body is read from the connection on demand; the caller
// must Close the response. Rejected statuses are reported as with Do, but
// only the first DefaultErrorBodyLimit bytes of their body are kept.
func (c *Client) Stream(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if !req.statusPolicy(resp.StatusCode) {
		if err := resp.bufferLimit(DefaultErrorBodyLimit); err != nil {
			return nil, err
		}
		return nil, &StatusError{Code: resp.StatusCode, Response: resp}
	}
	return resp, nil
}

// WithResponse streams req and hands the response to fn. The response is
// closed when fn returns, even if it panics.
func (c *Client) WithResponse(ctx context.Context, req *Request, fn func(*Response) error) error {
	resp, err := c.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Close()
	return fn(resp)
}

// execute runs the redirect loop and returns the final response with its
// body unread.
func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	chain := []string{req.url.String()}
	cur := req
	for hops := 0; ; hops++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		resp, err := c.roundTrip(ctx, cur)
		if err != nil {
			return nil, err
		}
		if req.redirectLimit == 0 || !isRedirect(resp) {
			return resp, nil
		}
		next, ok, err := redirectRequest(cur, resp)
		if err != nil {
			_ = resp.Close()
			return nil, err
		}
		if !ok {
			c.logf(obs.Info, "%s: not following %d, request body cannot be resent", cur, resp.StatusCode)
			return resp, nil
		}
		chain = append(chain, next.url.String())
		// Drain the redirect body so its connection can serve the next hop.
		_ = resp.Close()
		if hops >= req.redirectLimit {
			return nil, &TooManyRedirectsError{Limit: req.redirectLimit, Chain: chain}
		}
		c.meter.Counter("httpx_client_redirects_total", 1, obs.Label{Key: "status", Value: itoaStatus(resp.StatusCode)})
		c.logf(obs.Debug, "%s: %d redirect to %s", cur, resp.StatusCode, next.url)
		cur = next
	}
}

func (c *Client) logf(level obs.Level, format string, args ...interface{}) {
	c.logger.Logf(level, format, args...)
}

// Fetch executes req on m in buffering mode. See Client.Do.
func Fetch(ctx context.Context, m *Manager, req *Request) (*Response, error) {
	return NewClient(m).Do(ctx, req)
}

// Stream executes req on m in streaming mode. See Client.Stream.
func Stream(ctx context.Context, m *Manager, req *Request) (*Response, error) {
	return NewClient(m).Stream(ctx, req)
}

// WithResponse runs fn on a streamed response that is always closed
// afterwards. See Client.WithResponse.
func WithResponse(ctx context.Context, m *Manager, req *Request, fn func(*Response) error) error {
	return NewClient(m).WithResponse(ctx, req, fn)
}
