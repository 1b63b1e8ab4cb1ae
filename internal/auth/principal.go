// Package auth identifies callers and holds locally stored provider
// credentials.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the caller of an operation.
type Principal struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Anonymous is the principal used when no identity was supplied.
var Anonymous = Principal{}

// Resolver derives the principal from an incoming request.
type Resolver interface {
	Resolve(r *http.Request) Principal
}

// HeaderResolver trusts identity headers set by the proxy in front of the
// server.
type HeaderResolver struct {
	RoleHeader string
	UserHeader string
	elevated   map[string]bool
}

// NewHeaderResolver creates a resolver reading the given headers. Roles are
// compared case-insensitively.
func NewHeaderResolver(roleHeader, userHeader string, elevatedRoles []string) *HeaderResolver {
	elevated := make(map[string]bool, len(elevatedRoles))
	for _, r := range elevatedRoles {
		elevated[normalizeRole(r)] = true
	}
	return &HeaderResolver{RoleHeader: roleHeader, UserHeader: userHeader, elevated: elevated}
}

func (h *HeaderResolver) Resolve(r *http.Request) Principal {
	return Principal{
		UserID: strings.TrimSpace(r.Header.Get(h.UserHeader)),
		Role:   normalizeRole(r.Header.Get(h.RoleHeader)),
	}
}

// IsElevated reports whether the principal holds one of the elevated roles.
func (h *HeaderResolver) IsElevated(p Principal) bool {
	return h.elevated[normalizeRole(p.Role)]
}

// Middleware stores the resolved principal in the request context.
func (h *HeaderResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := h.Resolve(r)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireElevated rejects callers without an elevated role.
func (h *HeaderResolver) RequireElevated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.IsElevated(FromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"se requiere un rol autorizado para esta operación"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Anonymous
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
