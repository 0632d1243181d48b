package httpx

import "context"

type (
	requestIDKey     struct{}
	correlationIDKey struct{}
)

// WithRequestID makes the next request executed with ctx carry id as its
// X-Request-ID. Redirect hops reuse it. Without one a random id is sent.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey{})
}

// WithCorrelationID attaches an X-Correlation-ID to every request executed
// with ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func CorrelationIDFrom(ctx context.Context) (string, bool) {
	return stringValue(ctx, correlationIDKey{})
}

func stringValue(ctx context.Context, key any) (string, bool) {
	s, _ := ctx.Value(key).(string)
	return s, s != ""
}
