package shared

import "context"

// Identity carries the authenticated caller resolved by the gateway.
// Authentication itself is external; the service trusts the forwarded
// user and company identifiers.
type Identity struct {
	UserID    int64
	CompanyID int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
