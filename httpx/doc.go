// Package httpx is an HTTP/1.1 client built around an explicit connection
// pool.
//
// A Manager owns keep-alive connections, keyed by scheme, host, port and
// proxy route. Connections are leased to one request at a time and
// returned most-recently-used first; a background reaper closes those
// left idle past the idle timeout. A Request is an immutable description
// of a call, built with ParseRequest and functional options. A Client
// executes requests on a Manager, following redirects and applying the
// request's status policy.
//
// Responses come in two modes:
//   - buffering (Fetch, Client.Do): the body is read into memory and the
//     connection is released before the call returns;
//   - streaming (Stream, Client.Stream, WithResponse): the body is read
//     from the leased connection on demand and the caller closes it.
//
// Quick start:
//
//	m := httpx.NewManager()
//	defer m.Close()
//	req, err := httpx.ParseRequest("http://127.0.0.1:8080/")
//	if err != nil { log.Fatal(err) }
//	resp, err := httpx.Fetch(ctx, m, req)
//	if err != nil { log.Fatal(err) }
//	fmt.Println(resp.StatusCode, string(resp.Bytes()))
//
// Proxies come from HTTP_PROXY, HTTPS_PROXY and NO_PROXY unless a request
// sets WithProxy or WithoutProxy. https targets are tunnelled with CONNECT.
package httpx
