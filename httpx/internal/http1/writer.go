package http1

import (
	"bufio"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ValidateFields reports the first field whose name is not a token or whose
// value contains CR, LF or other control bytes.
func ValidateFields(fields []Field) error {
	for _, f := range fields {
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return fmt.Errorf("%w: name %q", ErrInvalidField, f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return fmt.Errorf("%w: value for %q", ErrInvalidField, f.Name)
		}
	}
	return nil
}

// ValidMethod reports whether m is a legal request method token.
func ValidMethod(m string) bool {
	return m != "" && httpguts.ValidHeaderFieldName(m)
}

// WriteRequestHead writes the request line and header block. Nothing is
// written when the method, target or any field is invalid.
func WriteRequestHead(bw *bufio.Writer, method, target string, fields []Field) error {
	if !ValidMethod(method) {
		return fmt.Errorf("%w: method %q", ErrInvalidField, method)
	}
	if target == "" || strings.ContainsAny(target, " \r\n") {
		return fmt.Errorf("%w: request target %q", ErrInvalidField, target)
	}
	if err := ValidateFields(fields); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// ChunkedWriter frames everything written to it as HTTP/1.1 chunks. Close
// writes the terminating zero-length chunk but does not flush.
type ChunkedWriter struct {
	bw *bufio.Writer
}

func NewChunkedWriter(bw *bufio.Writer) *ChunkedWriter {
	return &ChunkedWriter{bw: bw}
}

func (w *ChunkedWriter) Write(p []byte) (int, error) {
	return WriteChunked(w.bw, p)
}

func (w *ChunkedWriter) Close() error {
	return EndChunked(w.bw)
}

// WriteChunked writes one HTTP/1.1 chunk for chunked transfer encoding.
func WriteChunked(bw *bufio.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(bw, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := bw.Write(p); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// EndChunked writes the terminating zero-length chunk.
func EndChunked(bw *bufio.Writer) error {
	if _, err := fmt.Fprint(bw, "0\r\n\r\n"); err != nil {
		return err
	}
	return nil
}
