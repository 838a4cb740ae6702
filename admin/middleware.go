package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/maxpert/termlog/cfg"
)

const secretHeader = "X-Termlog-Secret"

// AuthMiddleware checks the admin secret when one is configured. The secret
// is accepted from the X-Termlog-Secret header or as a bearer token.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := cfg.Config.Admin.Secret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided, err := requestSecret(r)
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestSecret(r *http.Request) (string, error) {
	if s := r.Header.Get(secretHeader); s != "" {
		return s, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authentication header")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}
