package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Authorization for the management API is delegated to an external OIDC
// provider. The resolution path never goes through this middleware.
type OAuthConfig struct {
	IssuerURL string
	Audience  string
}

type OAuthMiddleware struct {
	verifier *oidc.IDTokenVerifier
	audience string
}

type AuthClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Scope string `json:"scope"`
}

func NewOAuthMiddleware(config OAuthConfig) (*OAuthMiddleware, error) {
	ctx := context.Background()

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: config.Audience,
	})

	return &OAuthMiddleware{
		verifier: verifier,
		audience: config.Audience,
	}, nil
}

func (m *OAuthMiddleware) Authenticate(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := m.verifier.Verify(r.Context(), tokenString)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			var claims AuthClaims
			if err := token.Claims(&claims); err != nil {
				http.Error(w, "failed to extract claims", http.StatusUnauthorized)
				return
			}

			if !m.checkAudience(token) {
				http.Error(w, "invalid audience", http.StatusUnauthorized)
				return
			}

			if len(requiredScopes) > 0 && !checkScopes(claims.Scope, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}

			ctx := withClaims(r.Context(), &claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *OAuthMiddleware) checkAudience(token *oidc.IDToken) bool {
	var claims map[string]interface{}
	if err := token.Claims(&claims); err != nil {
		return false
	}

	aud, ok := claims["aud"]
	if !ok {
		return false
	}

	switch v := aud.(type) {
	case string:
		return v == m.audience
	case []interface{}:
		for _, a := range v {
			if str, ok := a.(string); ok && str == m.audience {
				return true
			}
		}
	}
	return false
}

func checkScopes(tokenScopes string, requiredScopes []string) bool {
	scopeMap := make(map[string]bool)
	for _, s := range strings.Fields(tokenScopes) {
		scopeMap[s] = true
	}

	for _, required := range requiredScopes {
		if !scopeMap[required] {
			return false
		}
	}
	return true
}

type claimsKey struct{}

func withClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the verified claims for the request, or nil when
// the route is unauthenticated.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(claimsKey{}).(*AuthClaims)
	return claims
}
