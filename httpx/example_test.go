package httpx_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"dqx0.com/go/httpclient/httpx"
)

// ExampleHeader shows the ordered, case-insensitive header list.
func ExampleHeader() {
	var h httpx.Header
	h.Add("X-Foo", "a")
	h.Add("x-foo", "b")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Println(h.Get("X-FOO"))
	fmt.Println(len(h.Values("X-Foo")))
	h.Del("X-Foo")
	fmt.Println(h.Len())
	// Output:
	// a
	// 2
	// 1
}

// ExampleTraceState builds a tracestate value.
func ExampleTraceState() {
	ts := httpx.ParseTraceState("vendor1=abc")
	ts.Set("vendor2", "xyz")
	ts.Set("vendor1", "def") // moves to front
	fmt.Println(ts.String())
	// Output:
	// vendor1=def,vendor2=xyz
}

// ExampleWithTrace continues an inbound trace on outgoing requests.
func ExampleWithTrace() {
	tr, ok := httpx.ParseTraceparent("00-0123456789abcdef0123456789abcdef-0123456789abcdef-01")
	ctx := httpx.WithTrace(context.Background(), tr)
	got, _ := httpx.TraceFrom(ctx)
	fmt.Println(ok, got.TraceID)
	// Output:
	// true 0123456789abcdef0123456789abcdef
}

func ExampleFetch() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	m := httpx.NewManager()
	defer m.Close()

	resp, err := httpx.Fetch(context.Background(), m, httpx.MustParseRequest(srv.URL, httpx.WithoutProxy()))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(resp.StatusCode, string(resp.Bytes()))
	// Output:
	// 200 hello
}

func ExampleWithResponse() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "streamed")
	}))
	defer srv.Close()

	m := httpx.NewManager()
	defer m.Close()

	req := httpx.MustParseRequest(srv.URL, httpx.WithoutProxy())
	err := httpx.WithResponse(context.Background(), m, req, func(resp *httpx.Response) error {
		b, err := io.ReadAll(resp.Body)
		fmt.Println(string(b))
		return err
	})
	fmt.Println(err, m.Stats().Idle)
	// Output:
	// streamed
	// <nil> 1
}
