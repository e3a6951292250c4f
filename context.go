package clavis

import "context"

type contextKey int

const (
	clientIPKey contextKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's IP address, used for per-IP rate limits
// and audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the IP attached with WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// WithUserAgent attaches the caller's user agent, recorded on sessions.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey, ua)
}

// UserAgent returns the user agent attached with WithUserAgent, or "".
func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey).(string)
	return ua
}
