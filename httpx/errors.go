package httpx

import (
	"errors"
	"fmt"
	"strings"

	"dqx0.com/go/httpclient/httpx/internal/http1"
)

var (
	ErrInvalidURL        = errors.New("httpx: invalid URL")
	ErrInvalidRequest    = errors.New("httpx: invalid request")
	ErrConnect           = errors.New("httpx: connect failed")
	ErrConnectionLost    = errors.New("httpx: connection lost")
	ErrStatus            = errors.New("httpx: unacceptable status")
	ErrTooManyRedirects  = errors.New("httpx: too many redirects")
	ErrManagerClosed     = errors.New("httpx: manager closed")
	ErrBodyClosed        = errors.New("httpx: read on closed response body")
	ErrProtocolViolation = http1.ErrProtocol
	ErrHeaderTooLarge    = http1.ErrHeaderTooLarge
)

// InvalidURLError reports input rejected before any network activity.
type InvalidURLError struct {
	URL    string
	Reason string
	Err    error
}

func (e *InvalidURLError) Error() string {
	msg := "httpx: invalid URL " + fmt.Sprintf("%q", e.URL)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidURLError) Is(target error) bool { return target == ErrInvalidURL }
func (e *InvalidURLError) Unwrap() error        { return e.Err }

// ConnectError reports a failure to establish a fresh connection: DNS,
// TCP, proxy CONNECT or TLS handshake.
type ConnectError struct {
	Key EndpointKey
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("httpx: connect %s: %v", e.Key, e.Err)
}

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }
func (e *ConnectError) Unwrap() error        { return e.Err }

// ConnectionLostError reports an I/O failure on a leased connection. The
// connection has already been discarded; the request is not retried.
type ConnectionLostError struct {
	Key EndpointKey
	Op  string
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("httpx: connection to %s lost during %s: %v", e.Key, e.Op, e.Err)
}

func (e *ConnectionLostError) Is(target error) bool { return target == ErrConnectionLost }
func (e *ConnectionLostError) Unwrap() error        { return e.Err }

// StatusError is returned when the status policy rejects a response. The
// response is buffered, so its headers and body stay readable.
type StatusError struct {
	Code     int
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpx: unacceptable status %d", e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// TooManyRedirectsError is returned once a redirect chain exceeds the
// request's limit. Chain lists every URL visited, in order.
type TooManyRedirectsError struct {
	Limit int
	Chain []string
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("httpx: stopped after %d redirects: %s", e.Limit, strings.Join(e.Chain, " -> "))
}

func (e *TooManyRedirectsError) Is(target error) bool { return target == ErrTooManyRedirects }
