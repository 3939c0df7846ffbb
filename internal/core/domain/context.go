package domain

import "context"

type contextKey string

const (
	identityContextKey  contextKey = "identity"
	sessionIDContextKey contextKey = "session_id"
)

// ContextWithIdentity scopes an authenticated identity to one connection's processing.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	return identity, ok && identity != nil
}

func ContextWithSessionID(ctx context.Context, id SessionID) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, id)
}

func SessionIDFromContext(ctx context.Context) (SessionID, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(SessionID)
	return id, ok
}
