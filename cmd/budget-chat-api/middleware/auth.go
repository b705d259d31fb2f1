// Package middleware provides HTTP middleware for the budget chat API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

type contextKey string

const actorKey contextKey = "actor"

// Dev-mode identity headers.
const (
	HeaderUserID    = "X-User-ID"
	HeaderScopeKind = "X-Scope-Kind"
	HeaderScopeID   = "X-Scope-ID"
)

// Role represents an account role.
type Role string

const (
	RoleCitizen          Role = "citizen"
	RoleBarangayOfficial Role = "barangay_official"
	RoleCityOfficial     Role = "city_official"
	RoleAdmin            Role = "admin"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID    string
	Role      Role
	ScopeKind storage.ScopeType
	ScopeID   string
}

// Account returns the caller's default scope for routing.
func (a Actor) Account() scope.Account {
	return scope.Account{UserID: a.UserID, ScopeKind: a.ScopeKind, ScopeID: a.ScopeID}
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled  bool
	Secret   string
	Issuer   string
	Audience string
}

// Claims are the JWT claims issued to chat users.
type Claims struct {
	Role      string `json:"role,omitempty"`
	ScopeKind string `json:"scope_kind,omitempty"`
	ScopeID   string `json:"scope_id,omitempty"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

// Auth returns an authentication middleware. When disabled, the identity
// comes from the dev headers.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				userID := r.Header.Get(HeaderUserID)
				if userID == "" {
					userID = "dev-user"
				}
				actor := Actor{
					UserID:    userID,
					Role:      RoleCitizen,
					ScopeKind: parseScopeKind(r.Header.Get(HeaderScopeKind)),
					ScopeID:   strings.TrimSpace(r.Header.Get(HeaderScopeID)),
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := ParseToken(parts[1], cfg)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			actor := Actor{
				UserID:    claims.Subject,
				Role:      Role(claims.Role),
				ScopeKind: parseScopeKind(claims.ScopeKind),
				ScopeID:   claims.ScopeID,
			}
			if actor.Role == "" {
				actor.Role = RoleCitizen
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(tokenString string, cfg AuthConfig) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// SignToken issues an HS256 token for an actor.
func SignToken(cfg AuthConfig, actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:      string(actor.Role),
		ScopeKind: string(actor.ScopeKind),
		ScopeID:   actor.ScopeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

func parseScopeKind(v string) storage.ScopeType {
	switch storage.ScopeType(strings.ToLower(strings.TrimSpace(v))) {
	case storage.ScopeBarangay:
		return storage.ScopeBarangay
	case storage.ScopeCity:
		return storage.ScopeCity
	case storage.ScopeMunicipality:
		return storage.ScopeMunicipality
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// CORS returns CORS middleware for browser clients.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID, X-Scope-Kind, X-Scope-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
