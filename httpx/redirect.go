package httpx

import (
	"net/url"
	"strings"
)

func isRedirect(resp *Response) bool {
	switch resp.StatusCode {
	case 301, 302, 303, 307, 308:
		return resp.Header.Get("Location") != ""
	}
	return false
}

// redirectMethod returns the method for the next hop and whether the
// request body travels with it.
func redirectMethod(code int, method string) (string, bool) {
	switch code {
	case 301, 302:
		if method == "POST" {
			return "GET", false
		}
		return method, true
	case 303:
		if method == "HEAD" {
			return method, false
		}
		return "GET", false
	default:
		return method, true
	}
}

// redirectRequest builds the next hop for a redirect response. ok is false
// when the redirect cannot be followed because the body it needs was a
// one-shot stream that has been used up.
func redirectRequest(prev *Request, resp *Response) (next *Request, ok bool, err error) {
	loc := resp.Header.Get("Location")
	u, err := prev.url.Parse(loc)
	if err != nil {
		return nil, false, &InvalidURLError{URL: loc, Reason: "bad redirect location", Err: err}
	}
	if _, err := keyForURL(u); err != nil {
		return nil, false, &InvalidURLError{URL: u.String(), Reason: "redirect: " + err.Error()}
	}
	method, keepBody := redirectMethod(resp.StatusCode, prev.method)
	if keepBody && !prev.body.IsZero() && !prev.body.Replayable() {
		return nil, false, nil
	}

	next = prev.clone()
	next.url = u
	next.method = method
	if !keepBody {
		next.body = NoBody
		for _, f := range prev.header {
			if strings.HasPrefix(strings.ToLower(f.Name), "content-") {
				next.header.Del(f.Name)
			}
		}
	}
	if !sameOrigin(prev.url, u) {
		next.header.Del("Authorization")
		next.header.Del("Cookie")
		next.header.Del("Host")
	}
	return next, true, nil
}

// sameOrigin reports whether credentials may follow a hop from a to b:
// same host and port, and no change of scheme.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
