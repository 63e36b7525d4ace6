package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/handlers/auth"
	"github.com/go-chi/render"
)

type contextKey string

const IdentityContextKey = contextKey("identity")

// AuthJWT requires a bearer token. Websocket clients cannot set headers from
// a browser, so a token query parameter is accepted as well.
func AuthJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
				return
			}
			tokenString = parts[1]
		}

		if tokenString == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
			return
		}

		claims, err := auth.ParseJWT(tokenString)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid token"})
			return
		}

		ctx := WithIdentity(r.Context(), claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithIdentity(ctx context.Context, identity core.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

func IdentityFrom(ctx context.Context) (core.Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(core.Identity)
	return identity, ok && identity.ID != ""
}
