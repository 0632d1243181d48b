package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"time"
)

// Response is the result of a call.
//
// In buffering mode (Client.Do, Fetch) the body has already been read into
// memory and Bytes returns it. In streaming mode (Client.Stream, Stream)
// Body reads straight from the leased connection: it is single-pass, not
// safe for concurrent use, and the caller must Close it. A streaming body
// that is never closed keeps its connection leased until the Manager's
// reaper reclaims it after the idle timeout.
type Response struct {
	Status        string // e.g. "200 OK"
	StatusCode    int
	Proto         string
	Header        Header
	ContentLength int64 // -1 when unknown
	// Uncompressed is set when a gzip body was decoded on the fly; the
	// Content-Encoding and Content-Length headers are then removed.
	Uncompressed bool
	// Request is the request of the hop that produced this response.
	Request *Request
	Body    io.ReadCloser

	buf      []byte
	buffered bool
	raw      *connBody
}

// Bytes returns the materialised body, or nil for a streaming response.
func (r *Response) Bytes() []byte { return r.buf }

// Buffered reports whether the body is held in memory.
func (r *Response) Buffered() bool { return r.buffered }

// Close releases the body and its connection. It is safe to call more
// than once.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// buffer reads the rest of the body into memory and releases the
// connection.
func (r *Response) buffer() error {
	return r.bufferLimit(-1)
}

// bufferLimit is buffer with a cap on the bytes kept; limit < 0 means no
// cap. Whatever lies past limit is dropped the way Close drops it.
func (r *Response) bufferLimit(limit int64) error {
	if r.buffered {
		return nil
	}
	if r.raw != nil && !r.raw.released {
		// Reading to the end right now; not a body left with the caller.
		r.raw.conn.parked.Store(false)
	}
	var src io.Reader = r.Body
	if limit >= 0 {
		src = io.LimitReader(r.Body, limit)
	}
	b, err := io.ReadAll(src)
	_ = r.Body.Close()
	if err != nil {
		return err
	}
	r.buf = b
	r.buffered = true
	r.Body = io.NopCloser(bytes.NewReader(b))
	if r.ContentLength < 0 {
		r.ContentLength = int64(len(b))
	}
	return nil
}

// connBody reads a response body off a leased connection and gives the
// connection back exactly once: healthy when the body reached its end,
// or when Close could drain the remainder cheaply; unhealthy otherwise.
type connBody struct {
	m    *Manager
	conn *Conn
	ctx  context.Context
	stop func() bool // deregisters the cancellation hook
	r    io.Reader

	reuse        bool
	drainLimit   int64
	drainTimeout time.Duration

	eof      bool
	closed   bool
	released bool
}

func (b *connBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, ErrBodyClosed
	}
	if b.eof {
		return 0, io.EOF
	}
	if b.released {
		return 0, ErrBodyClosed
	}
	b.conn.reading.Store(true)
	n, err := b.r.Read(p)
	b.conn.touch()
	b.conn.reading.Store(false)
	switch {
	case err == io.EOF:
		b.eof = true
		b.release(b.reuse)
	case err != nil:
		b.release(false)
		err = &ConnectionLostError{Key: b.conn.key, Op: "read_body", Err: ctxErr(b.ctx, err)}
	}
	return n, err
}

func (b *connBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.released {
		return nil
	}
	if !b.reuse || b.drainLimit <= 0 || b.ctx.Err() != nil {
		b.release(false)
		return nil
	}
	if b.drainTimeout > 0 {
		_ = b.conn.nc.SetReadDeadline(time.Now().Add(b.drainTimeout))
	}
	b.conn.reading.Store(true)
	_, err := io.CopyN(io.Discard, b.r, b.drainLimit+1)
	b.conn.reading.Store(false)
	// CopyN reports io.EOF only when the body ended within the limit.
	b.release(err == io.EOF)
	return nil
}

func (b *connBody) release(healthy bool) {
	if b.released {
		return
	}
	b.released = true
	if !b.stop() {
		// The cancellation hook already poisoned the deadline.
		healthy = false
	}
	b.m.Release(b.conn, healthy)
}

// gzipBody decodes a gzip stream lazily so that building the Response
// never blocks on body bytes.
type gzipBody struct {
	body io.ReadCloser
	zr   *gzip.Reader
	err  error
}

func (g *gzipBody) Read(p []byte) (int, error) {
	if g.err != nil {
		return 0, g.err
	}
	if g.zr == nil {
		zr, err := gzip.NewReader(g.body)
		if err != nil {
			g.err = err
			return 0, err
		}
		g.zr = zr
	}
	n, err := g.zr.Read(p)
	if err == io.EOF {
		// Let the connection go as soon as the stream is complete.
		_ = g.body.Close()
	}
	if err != nil {
		g.err = err
	}
	return n, err
}

func (g *gzipBody) Close() error {
	return g.body.Close()
}
