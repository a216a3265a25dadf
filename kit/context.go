package kit

import "context"

type contextKey string

const (
	transportKey  contextKey = "transport"
	traceIDKey    contextKey = "trace_id"
	remoteAddrKey contextKey = "remote_addr"
)

// Transport names recorded in the context.
const (
	TransportHTTP    = "http"
	TransportStdio   = "stdio"
	TransportMCPQUIC = "mcp_quic"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport returns the transport recorded in ctx, "http" by default.
func GetTransport(ctx context.Context) string {
	if v, _ := ctx.Value(transportKey).(string); v != "" {
		return v
	}
	return TransportHTTP
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(remoteAddrKey).(string)
	return v
}
