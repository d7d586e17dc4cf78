// Package kit carries the transport-neutral endpoint shape shared by the
// HTTP API and the MCP server, plus the request-scoped context keys both
// transports populate.
package kit

import "context"

// Endpoint is one operation exposed over a transport. The transport decodes
// its wire format into a typed request, the endpoint returns a
// JSON-serializable response.
type Endpoint func(ctx context.Context, request any) (response any, err error)

type contextKey string

const (
	TransportKey  contextKey = "pageshot_transport" // "http", "mcp", "bot"
	RequestIDKey  contextKey = "pageshot_request_id"
	RemoteAddrKey contextKey = "pageshot_remote_addr"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}
