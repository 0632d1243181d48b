package httpx

import (
	"encoding/base64"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// ProxyFromEnvironment returns the proxy for u from HTTP_PROXY,
// HTTPS_PROXY and NO_PROXY (or their lower-case forms). A nil URL means no
// proxy. Requests to localhost and loopback addresses never use a proxy.
func ProxyFromEnvironment(u *url.URL) (*url.URL, error) {
	if u == nil {
		return nil, nil
	}
	return httpproxy.FromEnvironment().ProxyFunc()(u)
}

// resolveProxy picks the proxy for one hop: an explicit override wins,
// otherwise the environment decides.
func resolveProxy(r *Request) (*url.URL, error) {
	if r.proxySet {
		return r.proxy, nil
	}
	return ProxyFromEnvironment(r.url)
}

func proxyAuthHeader(u *url.URL) string {
	if u == nil || u.User == nil {
		return ""
	}
	pass, _ := u.User.Password()
	token := u.User.Username() + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}
