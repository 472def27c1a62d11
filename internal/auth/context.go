package auth

import (
	"context"

	"household-planet/internal/models"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID uuid.UUID
	Role   models.Role
}

// Can reports whether the principal holds permission p.
func (p *Principal) Can(perm Permission) bool {
	return p != nil && Can(p.Role, perm)
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal, or nil for anonymous requests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}
