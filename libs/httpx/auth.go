package httpx

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/backoffice/libs/auth"
)

// RequireAuth verifies a bearer token (HS256, or RS256 via JWKS when a client is
// given) and replaces the identity headers with the verified claims.
func RequireAuth(jwtSecret string, jwksClient *auth.JWKSClient) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid Authorization header")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			var claims *auth.Claims
			var err error

			if jwksClient != nil {
				header, herr := auth.ParseHeader(token)
				if herr != nil {
					WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token header")
					return
				}
				if header.Alg == "RS256" && header.Kid != "" {
					pub, kerr := jwksClient.Get(r.Context(), header.Kid)
					if kerr != nil {
						WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token key")
						return
					}
					claims, err = auth.VerifyRS256(token, pub)
				} else {
					claims, err = auth.ParseAndVerifyHS256(token, jwtSecret)
				}
			} else {
				claims, err = auth.ParseAndVerifyHS256(token, jwtSecret)
			}
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			r.Header.Del("X-User-Id")
			r.Header.Del("X-Business-Id")
			r.Header.Del("X-Role")
			r.Header.Set("X-User-Id", claims.Sub)
			r.Header.Set("X-Business-Id", claims.BusinessID)
			r.Header.Set("X-Role", claims.Role)
			next.ServeHTTP(w, r)
		})
	}
}

func RequireRole(roles ...string) Middleware {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[r.Header.Get("X-Role")]; !ok {
				WriteError(w, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
