package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"usrtaskmgt/internal/domain"
)

type AuthConfig struct {
	JWTSecret string
}

type identityKey struct{}

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFromContext(ctx context.Context) (domain.Identity, huma.StatusError) {
	if id, ok := ctx.Value(identityKey{}).(domain.Identity); ok && id.Name != "" {
		return id, nil
	}
	return domain.Identity{}, newAPIError(ctx, http.StatusUnauthorized, "unauthorized", "authentication required", "", nil)
}

// Claims are the token claims read from identity provider tokens. Keycloak
// style tokens carry roles under realm_access.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access,omitempty"`
}

func (c *Claims) identity(raw string) domain.Identity {
	name := c.PreferredUsername
	if name == "" {
		name = c.Subject
	}
	seen := map[string]bool{}
	var roles []string
	for _, r := range append(append([]string{}, c.Roles...), c.RealmAccess.Roles...) {
		if r != "" && !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	return domain.Identity{Name: name, Credential: raw, Roles: roles}
}

func authenticateJWT(token, secret string) (domain.Identity, error) {
	if strings.TrimSpace(secret) == "" {
		return domain.Identity{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	if !parsed.Valid {
		return domain.Identity{}, errors.New("invalid token")
	}
	id := claims.identity(token)
	if id.Name == "" {
		return domain.Identity{}, errors.New("preferred_username or sub claim required")
	}
	return id, nil
}

// SignToken mints an HS256 token for local use.
func SignToken(secret, user string, roles []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user,
			IssuedAt: jwt.NewNumericDate(now),
		},
		PreferredUsername: user,
		Roles:             roles,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(req.Context(), http.StatusUnauthorized, "unauthorized", "authentication required", "", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(req.Context(), http.StatusUnauthorized, "invalid_credentials", "invalid credentials", "", nil))
				return
			}
			id, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				logger.Debug("token rejected", zap.String("traceId", traceID(req.Context())), zap.Error(err))
				respondStatusError(w, newAPIError(req.Context(), http.StatusUnauthorized, "invalid_credentials", "invalid credentials", "", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withIdentity(req.Context(), id)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
