package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zpatrick/rbac"

	cfg "github.com/dataview-sh/dataview/app/config"
	actx "github.com/dataview-sh/dataview/app/context"
	"github.com/dataview-sh/dataview/web/server/api/util"
	"github.com/dataview-sh/dataview/web/server/types"
)

// The client roles, from least to most privileged. Anonymous clients can read
// public datasets, authenticated users can also read gated datasets, and
// admins can additionally access the admin endpoints.
const (
	RoleAnonymous = "anonymous"
	RoleUser      = "user"
	RoleAdmin     = "admin"
)

// NewRole creates the rbac role with the permissions of the given role ID.
func NewRole(roleID string) rbac.Role {
	var permissions []rbac.Permission
	switch roleID {
	case RoleAdmin:
		permissions = []rbac.Permission{rbac.NewGlobPermission("*", "*")}
	case RoleUser:
		permissions = []rbac.Permission{rbac.NewGlobPermission("read", "dataset:*")}
	default:
		roleID = RoleAnonymous
		permissions = []rbac.Permission{rbac.NewGlobPermission("read", "dataset:public")}
	}

	return rbac.Role{RoleID: roleID, Permissions: permissions}
}

// RoleFromRequest returns the role resolved by the Authn middleware, or the
// anonymous role if the request carried no credentials.
func RoleFromRequest(r *http.Request) rbac.Role {
	if role, ok := r.Context().Value(types.RequestRoleKey).(rbac.Role); ok {
		return role
	}

	return NewRole(RoleAnonymous)
}

// Authn authenticates the client from the Authorization header and stores the
// resolved role in the request context. Requests without credentials proceed
// as anonymous; access decisions are made per dataset by the handlers.
// Requests with malformed or invalid credentials are rejected with
// 401 Unauthorized.
func Authn(appCtx *actx.Context, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				_ = util.WriteJSON(w, types.NewUnauthorizedError("invalid Authorization header"))
				return
			}

			role, err := resolveToken(appCtx.Config, token)
			if err != nil {
				logger.Warn("failed authenticating client",
					"remote_addr", r.RemoteAddr, "error", err.Error())
				_ = util.WriteJSON(w, types.NewUnauthorizedError("invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), types.RequestRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveToken maps a bearer token to a role. The static API token grants
// admin; a valid JWT grants the role named in its "role" claim, defaulting to
// user.
func resolveToken(config *cfg.Config, token string) (rbac.Role, error) {
	if config.APIToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(config.APIToken)) == 1 {
		return NewRole(RoleAdmin), nil
	}

	if config.JWTSecret == "" {
		return rbac.Role{}, fmt.Errorf("unknown token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if config.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(config.JWTIssuer))
	}
	if config.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(config.JWTAudience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(config.JWTSecret), nil }, opts...)
	if err != nil {
		return rbac.Role{}, fmt.Errorf("failed parsing JWT: %w", err)
	}
	if !parsed.Valid {
		return rbac.Role{}, fmt.Errorf("invalid JWT")
	}

	roleID := RoleUser
	if claim, ok := claims["role"].(string); ok && claim == RoleAdmin {
		roleID = RoleAdmin
	}

	return NewRole(roleID), nil
}
