package middleware

import (
	"context"

	pkgauth "github.com/angelmondragon/storefront-user-service/pkg/auth"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// WithPrincipal stores the authenticated principal on ctx.
func WithPrincipal(ctx context.Context, principal *pkgauth.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, principal)
}

// PrincipalFromContext returns the principal set by Auth, or nil.
func PrincipalFromContext(ctx context.Context) *pkgauth.Principal {
	if ctx == nil {
		return nil
	}
	if p, ok := ctx.Value(ctxPrincipal).(*pkgauth.Principal); ok {
		return p
	}
	return nil
}
