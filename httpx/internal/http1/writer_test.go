package http1

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWriteRequestHead(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	fields := []Field{{"Host", "example.com"}, {"X-Dup", "a"}, {"x-dup", "b"}}
	if err := WriteRequestHead(bw, "GET", "/p?q=1", fields); err != nil {
		t.Fatalf("WriteRequestHead: %v", err)
	}
	_ = bw.Flush()
	want := "GET /p?q=1 HTTP/1.1\r\nHost: example.com\r\nX-Dup: a\r\nx-dup: b\r\n\r\n"
	if buf.String() != want {
		t.Fatalf("wire=%q\nwant=%q", buf.String(), want)
	}
}

func TestWriteRequestHead_RejectsInjection(t *testing.T) {
	for _, tc := range []struct {
		method, target string
		fields         []Field
	}{
		{"GE T", "/", nil},
		{"GET", "/a b", nil},
		{"GET", "/", []Field{{"X-Evil", "v\r\nInjected: 1"}}},
		{"GET", "/", []Field{{"Bad Name", "v"}}},
	} {
		var buf bytes.Buffer
		bw := bufio.NewWriter(&buf)
		err := WriteRequestHead(bw, tc.method, tc.target, tc.fields)
		if !errors.Is(err, ErrInvalidField) {
			t.Fatalf("%+v: err=%v, want ErrInvalidField", tc, err)
		}
		_ = bw.Flush()
		if buf.Len() != 0 {
			t.Fatalf("%+v: wrote %q on invalid input", tc, buf.String())
		}
	}
}

func TestChunkedWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	cw := NewChunkedWriter(bw)
	for _, p := range []string{"hello", "", " ", "world"} {
		if _, err := io.WriteString(cw, p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = bw.Flush()
	if !strings.HasSuffix(buf.String(), "0\r\n\r\n") {
		t.Fatalf("missing terminator: %q", buf.String())
	}
	got, err := io.ReadAll(newChunkedReader(bufio.NewReader(&buf), DefaultMaxLineBytes))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("decoded=%q", got)
	}
}
