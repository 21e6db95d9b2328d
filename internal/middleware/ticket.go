package middleware

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"

	"chat-service/internal/auth"
)

type contextKey string

const UsernameKey contextKey = "username"

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.Split(forwarded, ",")[0]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireTicket guards the destructive REST endpoints: the caller must
// present a valid chat ticket as a bearer token. The validated username is
// stashed in the request context for audit logging downstream.
func RequireTicket(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateTicket(token)
		if err != nil {
			log.Printf("[AUTH] Invalid ticket from %s: %v", getIP(r), err)
			http.Error(w, "Ticket expired or invalid", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UsernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequesterFrom extracts the authenticated username, if any.
func RequesterFrom(ctx context.Context) string {
	if name, ok := ctx.Value(UsernameKey).(string); ok {
		return name
	}
	return ""
}
