package tools

import "context"

type contextKey int

const sessionKeyContextKey contextKey = iota

// WithSessionKey tags a tool-execution context with the calling session.
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, sessionKeyContextKey, sessionKey)
}

// SessionKeyFromContext returns the calling session's key, if tagged.
func SessionKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(sessionKeyContextKey).(string)
	return key
}
