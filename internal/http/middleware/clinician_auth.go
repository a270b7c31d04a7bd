package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const clinicianClaimsKey contextKey = "clinicianClaims"

// ClinicianClaims are the claims carried by clinician session tokens.
type ClinicianClaims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// DisplayName returns the name recorded on chart entries: the name claim, else the subject.
func (c ClinicianClaims) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return c.Subject
}

// ClinicianJWT enforces an HMAC-signed JWT on chart endpoints.
func ClinicianJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "clinician auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := ClinicianClaims{}
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
			next.ServeHTTP(w, r.WithContext(WithClinicianClaims(r.Context(), claims)))
		})
	}
}

// WithClinicianClaims stores claims on the context.
func WithClinicianClaims(ctx context.Context, claims ClinicianClaims) context.Context {
	return context.WithValue(ctx, clinicianClaimsKey, claims)
}

// ClinicianClaimsFromContext returns clinician JWT claims if present.
func ClinicianClaimsFromContext(ctx context.Context) (ClinicianClaims, bool) {
	claims, ok := ctx.Value(clinicianClaimsKey).(ClinicianClaims)
	return claims, ok
}
