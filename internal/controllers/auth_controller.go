package controllers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/chainflow-io/chainflow/internal/config"
)

// AuthController guards API endpoints with the static bearer token from
// configuration. An empty configured token disables the API entirely.
type AuthController struct{}

func (a *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := config.GetSystemSettingString(config.API_TOKEN)
		if token == "" {
			http.Error(w, "api disabled", http.StatusForbidden)
			return
		}
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
