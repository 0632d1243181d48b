package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	ErrProtocol       = errors.New("http1: protocol violation")
	ErrHeaderTooLarge = errors.New("http1: header too large")
	ErrInvalidField   = errors.New("http1: invalid header field")
	// ErrMalformed is a kind of ErrProtocol.
	ErrMalformed = fmt.Errorf("%w: malformed message", ErrProtocol)
)

const (
	DefaultMaxLineBytes   = 8 << 10
	DefaultMaxHeaderBytes = 64 << 10
)

// Field is one header line, kept with the name as it was written.
type Field struct {
	Name  string
	Value string
}

// ResponseHead is the status line and header block of a response.
type ResponseHead struct {
	Proto      string
	StatusCode int
	Reason     string
	Fields     []Field
}

// Get returns the first value for name, compared case-insensitively.
func (h *ResponseHead) Get(name string) string {
	for _, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name in wire order.
func (h *ResponseHead) Values(name string) []string {
	var out []string
	for _, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

type Reader struct {
	BR             *bufio.Reader
	MaxLineBytes   int
	MaxHeaderBytes int
}

// ReadResponseHead reads one status line and its header block. Interim
// 1xx responses are returned like any other; the caller decides whether
// to skip them.
func (r *Reader) ReadResponseHead() (*ResponseHead, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformed, line)
	}
	proto := parts[0]
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrProtocol, proto)
	}
	if len(parts[1]) != 3 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
	}
	head := &ResponseHead{Proto: proto, StatusCode: code}
	if len(parts) == 3 {
		head.Reason = parts[2]
	}
	head.Fields, err = r.readFields()
	if err != nil {
		return nil, err
	}
	return head, nil
}

func (r *Reader) readFields() ([]Field, error) {
	var (
		fields []Field
		total  int
	)
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			return fields, nil
		}
		total += len(line)
		if r.MaxHeaderBytes > 0 && total > r.MaxHeaderBytes {
			return nil, ErrHeaderTooLarge
		}
		// obs-fold is not accepted from servers.
		if line[0] == ' ' || line[0] == '\t' {
			return nil, fmt.Errorf("%w: folded header line", ErrMalformed)
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		name := line[:i]
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: header name %q", ErrMalformed, name)
		}
		fields = append(fields, Field{Name: name, Value: strings.TrimSpace(line[i+1:])})
	}
}

func (r *Reader) readLine() (string, error) {
	line, err := readLineLimit(r.BR, r.MaxLineBytes)
	if errors.Is(err, io.EOF) {
		return "", io.ErrUnexpectedEOF
	}
	return line, err
}

// Framing says how a response body is delimited on the wire.
type Framing int

const (
	FramingNone Framing = iota
	FramingLength
	FramingChunked
	FramingClose
)

func (f Framing) String() string {
	switch f {
	case FramingNone:
		return "none"
	case FramingLength:
		return "length"
	case FramingChunked:
		return "chunked"
	case FramingClose:
		return "close"
	default:
		return "unknown"
	}
}

// ResponseFraming decides how the body following head is delimited,
// returning the declared length for FramingLength and -1 otherwise.
func ResponseFraming(method string, head *ResponseHead) (Framing, int64, error) {
	code := head.StatusCode
	if method == "HEAD" || (code >= 100 && code < 200) || code == 204 || code == 304 {
		return FramingNone, 0, nil
	}
	if te := head.Values("Transfer-Encoding"); len(te) > 0 {
		codings := strings.Split(strings.Join(te, ","), ",")
		last := strings.ToLower(strings.TrimSpace(codings[len(codings)-1]))
		if last == "chunked" {
			return FramingChunked, -1, nil
		}
		return FramingClose, -1, nil
	}
	cls := head.Values("Content-Length")
	if len(cls) == 0 {
		return FramingClose, -1, nil
	}
	n := int64(-1)
	for _, v := range cls {
		for _, p := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil || m < 0 {
				return 0, 0, fmt.Errorf("%w: Content-Length %q", ErrMalformed, v)
			}
			if n >= 0 && m != n {
				return 0, 0, fmt.Errorf("%w: conflicting Content-Length values", ErrMalformed)
			}
			n = m
		}
	}
	if n == 0 {
		return FramingNone, 0, nil
	}
	return FramingLength, n, nil
}

// KeepAlive reports whether the connection may carry another request once
// a body with the given framing has been read to its end.
func KeepAlive(head *ResponseHead, f Framing) bool {
	if f == FramingClose {
		return false
	}
	if head.StatusCode == 101 {
		return false
	}
	// Both framings present means an intermediary may disagree about where
	// this message ends.
	if len(head.Values("Transfer-Encoding")) > 0 && len(head.Values("Content-Length")) > 0 {
		return false
	}
	conn := strings.ToLower(strings.Join(head.Values("Connection"), ","))
	if head.Proto == "HTTP/1.0" {
		return strings.Contains(conn, "keep-alive")
	}
	for _, tok := range strings.Split(conn, ",") {
		if strings.TrimSpace(tok) == "close" {
			return false
		}
	}
	return true
}

// NewBodyReader returns a reader that yields exactly the body bytes and
// then io.EOF. A connection that ends before the framing is satisfied
// yields io.ErrUnexpectedEOF.
func NewBodyReader(br *bufio.Reader, f Framing, n int64, maxLine int) io.Reader {
	switch f {
	case FramingLength:
		return &lengthReader{r: br, n: n}
	case FramingChunked:
		return newChunkedReader(br, maxLine)
	case FramingClose:
		return br
	default:
		return eofReader{}
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

type lengthReader struct {
	r io.Reader
	n int64
}

func (l *lengthReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if err == io.EOF && l.n > 0 {
		return n, io.ErrUnexpectedEOF
	}
	if l.n == 0 {
		return n, io.EOF
	}
	return n, err
}
