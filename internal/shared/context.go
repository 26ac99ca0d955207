package shared

import "context"

type (
	userContextKey     struct{}
	sessionsContextKey struct{}
)

// ContextWithUser stores the request principal in context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the principal, returning the null user when absent.
func UserFromContext(ctx context.Context) *User {
	if user, ok := ctx.Value(userContextKey{}).(*User); ok && user != nil {
		return user
	}
	return NullUser()
}

// ContextWithSessionManager stores the session manager in context.
func ContextWithSessionManager(ctx context.Context, sm *SessionManager) context.Context {
	return context.WithValue(ctx, sessionsContextKey{}, sm)
}

// SessionManagerFromContext extracts the session manager.
func SessionManagerFromContext(ctx context.Context) *SessionManager {
	sm, _ := ctx.Value(sessionsContextKey{}).(*SessionManager)
	return sm
}
