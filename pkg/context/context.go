package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	TenantIDKey  = ContextKey("X-Tenant-Id")
	UserIDKey    = ContextKey("X-User-Id")
	UserEmailKey = ContextKey("X-User-Email")
)

func setValue(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func getValue(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return setValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getValue(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return setValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getValue(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return setValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getValue(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return setValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getValue(ctx, RemoteIPKey)
}

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return setValue(ctx, TenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	return getValue(ctx, TenantIDKey)
}

// SetUserID stores the application user acting on the request. Admin checks on
// roadmaps are made against this id.
func SetUserID(ctx context.Context, userID string) context.Context {
	return setValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return getValue(ctx, UserIDKey)
}

func SetUserEmail(ctx context.Context, email string) context.Context {
	return setValue(ctx, UserEmailKey, email)
}

func GetUserEmail(ctx context.Context) string {
	return getValue(ctx, UserEmailKey)
}

// Detach returns a background context that keeps the request-scoped values
// used for logging and tenancy. Used for work that must outlive the request.
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	for _, key := range []ContextKey{RequestIDKey, TenantIDKey, UserIDKey} {
		if v := getValue(ctx, key); v != "" {
			out = setValue(out, key, v)
		}
	}
	return out
}
