package controllers

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/chatforge/convoflow/internal/config"
)

// AuthController guards the API with a single shared key checked against the
// bcrypt hash in CFLOW_API_KEY_HASH. An empty hash means auth is disabled,
// which is only sensible for local development.
type AuthController struct {
	apiKeyHash string
}

func NewAuthController() *AuthController {
	return &AuthController{apiKeyHash: config.GetSystemSettingString(config.API_KEY_HASH)}
}

func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ac.apiKeyHash == "" {
			next(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(ac.apiKeyHash), []byte(apiKey)); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
