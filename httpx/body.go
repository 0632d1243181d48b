package httpx

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync/atomic"
)

var errBodyConsumed = errors.New("httpx: one-shot request body already consumed")

// Body is the payload of a request. The zero value is no body.
//
// In-memory and StreamBody payloads can be sent more than once, which is
// what 307/308 redirects need; a ReaderBody can be sent only once.
type Body struct {
	data    []byte
	inMem   bool
	open    func() (io.ReadCloser, error)
	size    int64
	oneShot *atomic.Bool
}

// NoBody is an absent request body.
var NoBody = Body{}

// BytesBody sends b with a Content-Length. b must not be modified while
// requests using it are in flight.
func BytesBody(b []byte) Body {
	return Body{data: b, inMem: true, size: int64(len(b))}
}

func StringBody(s string) Body {
	return BytesBody([]byte(s))
}

// StreamBody sends whatever open returns, calling it once per send. size
// is the exact byte count, or -1 when unknown, in which case the body is
// sent with chunked transfer coding.
func StreamBody(open func() (io.ReadCloser, error), size int64) Body {
	if size < 0 {
		size = -1
	}
	return Body{open: open, size: size}
}

// ReaderBody streams r once. Redirects that must resend the body are not
// followed for such requests.
func ReaderBody(r io.Reader, size int64) Body {
	used := new(atomic.Bool)
	b := StreamBody(func() (io.ReadCloser, error) {
		if used.Swap(true) {
			return nil, errBodyConsumed
		}
		if rc, ok := r.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(r), nil
	}, size)
	b.oneShot = used
	return b
}

// IsZero reports whether the body is absent.
func (b Body) IsZero() bool {
	return !b.inMem && b.open == nil
}

// Size is the payload length: 0 when absent, -1 when unknown.
func (b Body) Size() int64 {
	if b.IsZero() {
		return 0
	}
	return b.size
}

// Replayable reports whether the body can be sent again.
func (b Body) Replayable() bool {
	return b.oneShot == nil || !b.oneShot.Load()
}

func (b Body) reader() (io.ReadCloser, error) {
	switch {
	case b.inMem:
		return io.NopCloser(bytes.NewReader(b.data)), nil
	case b.open != nil:
		return b.open()
	default:
		return io.NopCloser(strings.NewReader("")), nil
	}
}
