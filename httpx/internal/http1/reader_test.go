package http1

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func readHead(t *testing.T, raw string, maxLine, maxTotal int) (*ResponseHead, *bufio.Reader, error) {
	t.Helper()
	br := bufio.NewReader(strings.NewReader(raw))
	r := &Reader{BR: br, MaxLineBytes: maxLine, MaxHeaderBytes: maxTotal}
	head, err := r.ReadResponseHead()
	return head, br, err
}

func readBody(t *testing.T, method, raw string) (string, Framing, error) {
	t.Helper()
	head, br, err := readHead(t, raw, DefaultMaxLineBytes, DefaultMaxHeaderBytes)
	if err != nil {
		t.Fatalf("ReadResponseHead error: %v", err)
	}
	f, n, err := ResponseFraming(method, head)
	if err != nil {
		t.Fatalf("ResponseFraming error: %v", err)
	}
	b, err := io.ReadAll(NewBodyReader(br, f, n, DefaultMaxLineBytes))
	return string(b), f, err
}

func TestReader_StatusLineAndFieldOrder(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nX-B: 1\r\nx-a: 2\r\nX-B: 3\r\n\r\n"
	head, _, err := readHead(t, raw, DefaultMaxLineBytes, DefaultMaxHeaderBytes)
	if err != nil {
		t.Fatalf("ReadResponseHead error: %v", err)
	}
	if head.StatusCode != 404 || head.Reason != "Not Found" || head.Proto != "HTTP/1.1" {
		t.Fatalf("head=%+v", head)
	}
	want := []Field{{"X-B", "1"}, {"x-a", "2"}, {"X-B", "3"}}
	if len(head.Fields) != len(want) {
		t.Fatalf("fields=%v", head.Fields)
	}
	for i := range want {
		if head.Fields[i] != want[i] {
			t.Fatalf("field %d = %v, want %v", i, head.Fields[i], want[i])
		}
	}
	if got := head.Get("X-A"); got != "2" {
		t.Fatalf("Get(X-A)=%q", got)
	}
	if got := head.Values("x-b"); len(got) != 2 || got[1] != "3" {
		t.Fatalf("Values(x-b)=%v", got)
	}
}

func TestReader_RejectsMalformedHeads(t *testing.T) {
	cases := map[string]string{
		"not http":      "SPDY/3 200 OK\r\n\r\n",
		"short code":    "HTTP/1.1 20 OK\r\n\r\n",
		"no colon":      "HTTP/1.1 200 OK\r\nbroken\r\n\r\n",
		"bad name":      "HTTP/1.1 200 OK\r\nBad( : v\r\n\r\n",
		"folded header": "HTTP/1.1 200 OK\r\nA: b\r\n c\r\n\r\n",
	}
	for name, raw := range cases {
		if _, _, err := readHead(t, raw, DefaultMaxLineBytes, DefaultMaxHeaderBytes); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestReader_TruncatedHead(t *testing.T) {
	_, _, err := readHead(t, "HTTP/1.1 200 OK\r\nA: b\r\n", DefaultMaxLineBytes, DefaultMaxHeaderBytes)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v, want unexpected EOF", err)
	}
}

func TestReader_MaxHeaderBytes(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nA: b\r\nC: d\r\nE: f\r\n\r\n"
	if _, _, err := readHead(t, raw, DefaultMaxLineBytes, 6); !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("err=%v, want ErrHeaderTooLarge", err)
	}
	if _, _, err := readHead(t, raw, 3, 0); !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("err=%v, want ErrHeaderTooLarge for line limit", err)
	}
}

func TestBody_ContentLength(t *testing.T) {
	body, f, err := readBody(t, "GET", "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhelloEXTRA")
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if f != FramingLength || body != "hello" {
		t.Fatalf("framing=%v body=%q", f, body)
	}
}

func TestBody_ContentLengthTruncated(t *testing.T) {
	_, _, err := readBody(t, "GET", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nhello")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v, want unexpected EOF", err)
	}
}

func TestBody_Chunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3;ext=1\r\nhey\r\n2\r\n!!\r\n0\r\nTrailer: x\r\n\r\nNEXT"
	body, f, err := readBody(t, "GET", raw)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if f != FramingChunked || body != "hey!!" {
		t.Fatalf("framing=%v body=%q", f, body)
	}
}

func TestBody_ChunkedTruncated(t *testing.T) {
	_, _, err := readBody(t, "GET", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhe")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v, want unexpected EOF", err)
	}
}

func TestBody_ChunkSizeMustBeHexDigits(t *testing.T) {
	for _, size := range []string{"+5", "-5", "0x5", "5 5", "g"} {
		raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" + size + "\r\nhello\r\n0\r\n\r\n"
		_, _, err := readBody(t, "GET", raw)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("size %q: err=%v, want ErrMalformed", size, err)
		}
	}
}

func TestFraming_NoBodyResponses(t *testing.T) {
	for _, tc := range []struct {
		method string
		raw    string
	}{
		{"HEAD", "HTTP/1.1 200 OK\r\nContent-Length: 42\r\n\r\n"},
		{"GET", "HTTP/1.1 204 No Content\r\n\r\n"},
		{"GET", "HTTP/1.1 304 Not Modified\r\nContent-Length: 42\r\n\r\n"},
		{"GET", "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"},
	} {
		head, _, err := readHead(t, tc.raw, 0, 0)
		if err != nil {
			t.Fatalf("ReadResponseHead: %v", err)
		}
		f, _, err := ResponseFraming(tc.method, head)
		if err != nil || f != FramingNone {
			t.Fatalf("%s %q: framing=%v err=%v", tc.method, tc.raw, f, err)
		}
	}
}

func TestFraming_ContentLengthConflict(t *testing.T) {
	head, _, _ := readHead(t, "HTTP/1.1 200 OK\r\nContent-Length: 5, 6\r\n\r\n", 0, 0)
	if _, _, err := ResponseFraming("GET", head); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err=%v, want ErrMalformed", err)
	}
	head, _, _ = readHead(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\n", 0, 0)
	if f, n, err := ResponseFraming("GET", head); err != nil || f != FramingLength || n != 5 {
		t.Fatalf("repeated equal lengths: f=%v n=%d err=%v", f, n, err)
	}
}

func TestKeepAlive(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n", true},
		{"HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 1\r\n\r\n", false},
		{"HTTP/1.0 200 OK\r\nContent-Length: 1\r\n\r\n", false},
		{"HTTP/1.0 200 OK\r\nConnection: Keep-Alive\r\nContent-Length: 1\r\n\r\n", true},
		{"HTTP/1.1 200 OK\r\n\r\n", false},
		{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Length: 1\r\n\r\n", false},
	}
	for _, tc := range cases {
		head, _, err := readHead(t, tc.raw, 0, 0)
		if err != nil {
			t.Fatalf("ReadResponseHead: %v", err)
		}
		f, _, err := ResponseFraming("GET", head)
		if err != nil {
			t.Fatalf("ResponseFraming: %v", err)
		}
		if got := KeepAlive(head, f); got != tc.want {
			t.Fatalf("%q: KeepAlive=%v, want %v", tc.raw, got, tc.want)
		}
	}
}
