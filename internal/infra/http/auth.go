package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"yt-insights/internal/domain"
)

type contextKey string

const userKey contextKey = "external_user_id"

// AuthMiddleware проверяет подписанный токен в заголовке Authorization.
// Формат токена: "<external_id>.<hex hmac-sha256>".
func AuthMiddleware(tokenSecret string) func(http.Handler) http.Handler {
	secret := sha256.Sum256([]byte(tokenSecret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
			if raw == "" {
				WriteError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
				return
			}
			externalID, ok := validateToken(raw, secret[:])
			if !ok {
				WriteError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, externalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateToken(token string, secret []byte) (string, bool) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return "", false
	}
	externalID := token[:idx]
	expected, err := hex.DecodeString(token[idx+1:])
	if err != nil {
		return "", false
	}
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(externalID))
	if !hmac.Equal(h.Sum(nil), expected) {
		return "", false
	}
	return externalID, true
}

// SignToken выпускает токен для указанного идентификатора пользователя.
func SignToken(externalID, tokenSecret string) string {
	secret := sha256.Sum256([]byte(tokenSecret))
	h := hmac.New(sha256.New, secret[:])
	h.Write([]byte(externalID))
	return externalID + "." + hex.EncodeToString(h.Sum(nil))
}

// ExternalUserID возвращает идентификатор пользователя из контекста запроса.
func ExternalUserID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(userKey).(string)
	return id, ok && id != ""
}

// WriteJSON отправляет ответ в JSON.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
