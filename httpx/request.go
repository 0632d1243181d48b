package httpx

import (
	"encoding/base64"
	"net/url"
	"strings"
	"time"
)

const DefaultRedirectLimit = 10

// StatusPolicy decides which status codes count as success.
type StatusPolicy func(code int) bool

// Accept2xx is the default policy.
func Accept2xx(code int) bool { return code >= 200 && code <= 299 }

// AcceptAll never rejects a response.
func AcceptAll(int) bool { return true }

// AcceptCodes accepts 2xx plus the listed codes.
func AcceptCodes(codes ...int) StatusPolicy {
	return func(code int) bool {
		if Accept2xx(code) {
			return true
		}
		for _, c := range codes {
			if c == code {
				return true
			}
		}
		return false
	}
}

// Request describes one call. It is immutable: With returns a modified
// copy and leaves the receiver untouched, so one Request may be executed
// any number of times, concurrently.
type Request struct {
	method          string
	url             *url.URL
	header          Header
	body            Body
	redirectLimit   int
	statusPolicy    StatusPolicy
	proxy           *url.URL
	proxySet        bool
	responseTimeout time.Duration
	decompress      bool
}

// Option changes a Request while it is being built.
type Option func(*Request)

// ParseRequest builds a GET request for an absolute http or https URL.
// Malformed input fails with an *InvalidURLError before any I/O.
func ParseRequest(rawURL string, opts ...Option) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL, Err: err}
	}
	if !u.IsAbs() {
		return nil, &InvalidURLError{URL: rawURL, Reason: "not an absolute URL"}
	}
	if _, err := keyForURL(u); err != nil {
		return nil, &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	r := &Request{
		method:        "GET",
		url:           u,
		redirectLimit: DefaultRedirectLimit,
		statusPolicy:  Accept2xx,
		decompress:    true,
	}
	r.apply(opts)
	return r, nil
}

// MustParseRequest is like ParseRequest but panics on error. It is meant
// for fixed URLs in tests and examples.
func MustParseRequest(rawURL string, opts ...Option) *Request {
	r, err := ParseRequest(rawURL, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// With returns a copy of r with opts applied.
func (r *Request) With(opts ...Option) *Request {
	r2 := r.clone()
	r2.apply(opts)
	return r2
}

func (r *Request) clone() *Request {
	r2 := *r
	u := *r.url
	if r.url.User != nil {
		ui := *r.url.User
		u.User = &ui
	}
	r2.url = &u
	r2.header = r.header.Clone()
	return &r2
}

func (r *Request) apply(opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
}

func (r *Request) Method() string { return r.method }

// URL returns a copy of the target URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	return &u
}

// Header returns a copy of the request header.
func (r *Request) Header() Header { return r.header.Clone() }

func (r *Request) Body() Body { return r.body }

func (r *Request) RedirectLimit() int { return r.redirectLimit }

func (r *Request) StatusPolicy() StatusPolicy { return r.statusPolicy }

// Proxy returns the explicit proxy and whether one was configured. When ok
// is false the proxy comes from the environment.
func (r *Request) Proxy() (u *url.URL, ok bool) { return r.proxy, r.proxySet }

func (r *Request) ResponseTimeout() time.Duration { return r.responseTimeout }

func (r *Request) String() string { return r.method + " " + r.url.String() }

// WithMethod replaces the verb. Methods are case-sensitive.
func WithMethod(method string) Option {
	return func(r *Request) { r.method = method }
}

// WithHeader sets one header, replacing existing values for name.
func WithHeader(name, value string) Option {
	return func(r *Request) { r.header.Set(name, value) }
}

// WithHeaders merges h into the request header; names present in h
// replace the existing values.
func WithHeaders(h Header) Option {
	return func(r *Request) { r.header = r.header.Merge(h) }
}

func WithBody(b Body) Option {
	return func(r *Request) { r.body = b }
}

// WithRedirectLimit sets how many redirects are followed. Zero disables
// redirect following; the 3xx response is then subject to the status
// policy like any other.
func WithRedirectLimit(n int) Option {
	return func(r *Request) {
		if n < 0 {
			n = 0
		}
		r.redirectLimit = n
	}
}

func WithStatusPolicy(p StatusPolicy) Option {
	return func(r *Request) {
		if p == nil {
			p = Accept2xx
		}
		r.statusPolicy = p
	}
}

// WithProxy routes the request through an http:// proxy, overriding the
// environment. A nil u is the same as WithoutProxy.
func WithProxy(u *url.URL) Option {
	return func(r *Request) {
		r.proxy = u
		r.proxySet = true
	}
}

// WithoutProxy connects directly even when the environment names a proxy.
func WithoutProxy() Option {
	return WithProxy(nil)
}

// WithBasicAuth sets an Authorization header for HTTP basic auth.
func WithBasicAuth(user, password string) Option {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return WithHeader("Authorization", "Basic "+token)
}

// WithQuery replaces the query string.
func WithQuery(q url.Values) Option {
	return func(r *Request) { r.url.RawQuery = q.Encode() }
}

// WithFormBody sends form as application/x-www-form-urlencoded. A GET
// request becomes a POST.
func WithFormBody(form url.Values) Option {
	return func(r *Request) {
		if r.method == "GET" {
			r.method = "POST"
		}
		r.body = StringBody(form.Encode())
		r.header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
}

// WithResponseTimeout bounds the wait for the status line and headers of
// each hop. The body is not covered.
func WithResponseTimeout(d time.Duration) Option {
	return func(r *Request) { r.responseTimeout = d }
}

// WithoutDecompression leaves gzip-encoded bodies as sent and stops the
// client from advertising gzip support.
func WithoutDecompression() Option {
	return func(r *Request) { r.decompress = false }
}
