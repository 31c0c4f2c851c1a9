package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Jeduardo622/allincompassing-api/internal/tenancy"
)

// SchedulingClaims are the JWT claims the scheduler needs: who is calling,
// for which organization, and with what role.
type SchedulingClaims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Auth enforces an HMAC-signed bearer token and resolves the caller's
// org, user and role into the request context. Requests without a valid
// token are rejected with 401; tokens missing an org are rejected with 403
// because every scheduling operation must be tenant-scoped.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := SchedulingClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if strings.TrimSpace(claims.OrgID) == "" {
				http.Error(w, "organization context required", http.StatusForbidden)
				return
			}
			role := tenancy.Role(claims.Role)
			if !role.Valid() {
				http.Error(w, "unrecognized role", http.StatusForbidden)
				return
			}

			ctx := tenancy.WithOrgID(r.Context(), claims.OrgID)
			ctx = tenancy.WithUserID(ctx, claims.Subject)
			ctx = tenancy.WithRole(ctx, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
