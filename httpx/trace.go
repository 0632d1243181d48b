package httpx

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Trace is the W3C trace context propagated on outgoing requests. Every
// hop gets a fresh span id whose parent is SpanID.
type Trace struct {
	TraceID string // 32 lower-case hex digits
	SpanID  string // 16 lower-case hex digits, the caller's span
	Flags   string // 2 hex digits, "01" when sampled
	State   TraceState
}

type traceKey struct{}

// WithTrace stores tr in ctx; requests executed with the returned context
// continue that trace.
func WithTrace(ctx context.Context, tr Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, tr)
}

func TraceFrom(ctx context.Context) (Trace, bool) {
	tr, ok := ctx.Value(traceKey{}).(Trace)
	return tr, ok
}

// ParseTraceparent reads a traceparent header value, for instance one
// taken from an inbound request, into a Trace.
func ParseTraceparent(v string) (Trace, bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) < 4 {
		return Trace{}, false
	}
	ver, tid, sid, fl := parts[0], strings.ToLower(parts[1]), strings.ToLower(parts[2]), strings.ToLower(parts[3])
	if len(ver) != 2 || ver == "ff" || len(tid) != 32 || len(sid) != 16 || len(fl) != 2 {
		return Trace{}, false
	}
	if !isHex(ver) || !isHex(tid) || !isHex(sid) || !isHex(fl) {
		return Trace{}, false
	}
	if tid == strings.Repeat("0", 32) || sid == strings.Repeat("0", 16) {
		return Trace{}, false
	}
	return Trace{TraceID: tid, SpanID: sid, Flags: fl}, true
}

func formatTraceparent(traceID, spanID, flags string) string {
	if flags == "" {
		flags = "01"
	}
	return "00-" + traceID + "-" + spanID + "-" + flags
}

// Version 4 UUIDs carry a non-zero version nibble, so neither id below can
// be the all-zero value the format forbids.
func genTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func genSpanID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}
