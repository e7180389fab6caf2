package identity

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the authenticated caller: id plus role, nothing more.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

type contextKey struct{}

// NewContext returns ctx carrying the principal.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext retrieves the principal set by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
