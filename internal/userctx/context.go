// Package userctx carries the caller identity supplied by the auth layer.
package userctx

import "context"

type contextKey string

const identityContextKey contextKey = "identity"

const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func WithIdentity(ctx context.Context, id Identity) context.Context {
	if id.Role == "" {
		id.Role = RoleAgent
	}
	return context.WithValue(ctx, identityContextKey, id)
}

func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok && id.UserID != ""
}

func GetUserID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	return id.UserID, ok
}
