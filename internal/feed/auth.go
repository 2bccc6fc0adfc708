package feed

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

type contextKey string

const chatIDKey contextKey = "feed_chat_id"

// Authenticate rejects requests without a valid feed token and stores the
// token's chat id in the request context.
func Authenticate(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authorize(tokens, r)
			if err != nil {
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), err)
				return
			}
			ctx := context.WithValue(r.Context(), chatIDKey, claims.ChatID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ChatID returns the chat id stored by Authenticate.
func ChatID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(chatIDKey).(int64)
	return id, ok
}

func authorize(tokens *Tokens, r *http.Request) (*Claims, error) {
	token, err := tokenFrom(r)
	if err != nil {
		return nil, err
	}
	return tokens.Validate(token)
}

// tokenFrom reads "Authorization: Bearer <jwt>", falling back to ?token=
// since browsers cannot set headers on websocket requests.
func tokenFrom(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", apperrors.Unauthorized("invalid authorization header format")
		}
		return parts[1], nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", apperrors.Unauthorized("missing token")
}
