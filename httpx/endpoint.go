package httpx

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// EndpointKey identifies where a connection goes. Two requests share a
// pooled connection only when their keys render the same String.
type EndpointKey struct {
	Host  string
	Port  int
	TLS   bool
	Proxy *EndpointKey

	// set on proxy keys that carry credentials
	user string
	auth string
}

// Addr returns host:port, bracketing IPv6 literals.
func (k EndpointKey) Addr() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

func (k EndpointKey) Scheme() string {
	if k.TLS {
		return "https"
	}
	return "http"
}

func (k EndpointKey) String() string {
	var b strings.Builder
	b.WriteString(k.Scheme())
	b.WriteString("://")
	if k.user != "" {
		b.WriteString(k.user)
		if k.auth != "" {
			// Tunnels opened with one password must not serve another.
			sum := sha256.Sum256([]byte(k.auth))
			b.WriteByte(':')
			b.WriteString(hex.EncodeToString(sum[:6]))
		}
		b.WriteByte('@')
	}
	b.WriteString(k.Addr())
	if k.Proxy != nil {
		b.WriteString(" via ")
		b.WriteString(k.Proxy.String())
	}
	return b.String()
}

// Equal reports whether k and o name the same pool.
func (k EndpointKey) Equal(o EndpointKey) bool {
	return k.String() == o.String()
}

// tunneled reports whether requests reach the target through a CONNECT
// tunnel rather than being forwarded by the proxy.
func (k EndpointKey) tunneled() bool {
	return k.Proxy != nil && k.TLS
}

// forwarded reports whether requests are sent to an HTTP proxy in
// absolute form.
func (k EndpointKey) forwarded() bool {
	return k.Proxy != nil && !k.TLS
}

func keyForURL(u *url.URL) (EndpointKey, error) {
	host := u.Hostname()
	if host == "" {
		return EndpointKey{}, errors.New("missing host")
	}
	var k EndpointKey
	switch strings.ToLower(u.Scheme) {
	case "http":
		k.Port = 80
	case "https":
		k.Port = 443
		k.TLS = true
	default:
		return EndpointKey{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return EndpointKey{}, fmt.Errorf("invalid port %q", p)
		}
		k.Port = n
	}
	k.Host = strings.ToLower(host)
	return k, nil
}

// endpointFor resolves the pool key for target, reached through proxy
// when proxy is non-nil. Only http:// proxies are supported.
func endpointFor(target, proxy *url.URL) (EndpointKey, error) {
	key, err := keyForURL(target)
	if err != nil {
		return EndpointKey{}, err
	}
	if proxy == nil {
		return key, nil
	}
	if !strings.EqualFold(proxy.Scheme, "http") {
		return EndpointKey{}, fmt.Errorf("unsupported proxy scheme %q", proxy.Scheme)
	}
	pk, err := keyForURL(proxy)
	if err != nil {
		return EndpointKey{}, fmt.Errorf("proxy: %w", err)
	}
	if proxy.User != nil {
		pk.user = proxy.User.Username()
		pk.auth = proxyAuthHeader(proxy)
	}
	key.Proxy = &pk
	return key, nil
}
