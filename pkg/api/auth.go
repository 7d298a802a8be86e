package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
)

// Principal is the authenticated caller of an API request.
type Principal struct {
	TenantID string
	UserID   string
	Admin    bool
}

// Authorizer resolves a bearer token to a principal.
type Authorizer interface {
	Authorize(token string) (*Principal, error)
}

// StaticAuthorizer resolves tokens from the configuration. An empty
// token table disables authentication: every request runs as a local
// admin principal.
type StaticAuthorizer struct {
	tokens map[string]Principal
}

// NewStaticAuthorizer builds an authorizer from the config token table.
func NewStaticAuthorizer(tokens map[string]config.AuthToken) *StaticAuthorizer {
	m := make(map[string]Principal, len(tokens))
	for token, p := range tokens {
		m[token] = Principal{TenantID: p.Tenant, UserID: p.User, Admin: p.Admin}
	}
	return &StaticAuthorizer{tokens: m}
}

// Enabled reports whether any token is configured.
func (a *StaticAuthorizer) Enabled() bool {
	return len(a.tokens) > 0
}

// Authorize resolves a token.
func (a *StaticAuthorizer) Authorize(token string) (*Principal, error) {
	if p, ok := a.tokens[token]; ok {
		return &p, nil
	}
	return nil, errdefs.New(errdefs.KindUnauthorized, "invalid bearer token")
}

type principalKey struct{}

// principalFrom returns the request principal; the auth middleware
// always sets one.
func principalFrom(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok {
		return p
	}
	return &Principal{Admin: true}
}

// authenticate is the bearer-token middleware. When no tokens are
// configured the request runs as a local admin.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := &Principal{Admin: true}

		if auth, ok := s.auth.(*StaticAuthorizer); !ok || auth.Enabled() {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				writeError(w, errdefs.New(errdefs.KindUnauthorized, "missing bearer token"))
				return
			}
			resolved, err := s.auth.Authorize(token)
			if err != nil {
				writeError(w, err)
				return
			}
			p = resolved
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// canAccess reports whether the principal may touch a build of the
// given tenant.
func (p *Principal) canAccess(tenantID string) bool {
	return p.Admin || p.TenantID == tenantID
}
