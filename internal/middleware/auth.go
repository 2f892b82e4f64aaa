// Package middleware содержит HTTP middleware сервиса расчётов.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "mp_auth"
	authCookieTTL  = 30 * 24 * time.Hour
)

// RoleVendor и RoleAdmin — роли субъектов, известные сервису.
const (
	RoleVendor   = "vendor"
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// Identity описывает аутентифицированного субъекта запроса.
type Identity struct {
	Subject string
	Role    string
}

// AuthMiddleware проверяет подписанный cookie, выданный внешней системой
// аутентификации с тем же секретом.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// RequireRole проверяет cookie авторизации, сверяет роль и добавляет
// субъекта в контекст запроса.
func (a *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(authCookieName)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			id, ok := a.parseCookie(cookie.Value)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			if id.Role != role {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetAuthCookie устанавливает cookie авторизации для указанного субъекта и роли.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, subject, role string) {
	value := a.sign(subject, role)

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(subject, role string) string {
	payload := subject + "." + role
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	signature := mac.Sum(nil)
	return payload + "." + hex.EncodeToString(signature)
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Identity, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 3 {
		return Identity{}, false
	}

	subject, role, signature := parts[0], parts[1], parts[2]
	if subject == "" || role == "" {
		return Identity{}, false
	}

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(subject + "." + role))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Identity{}, false
	}

	return Identity{Subject: subject, Role: role}, true
}

// GetIdentityFromContext извлекает субъекта запроса из контекста.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
