package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"

	"github.com/xelth-com/stocksyncgo/internal/utils"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login handles operator login against the configured admin account
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var loginReq LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&loginReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	admin := r.svc.Config.Admin
	if admin.PasswordHash == "" {
		respondError(w, http.StatusServiceUnavailable, "Admin login is not configured")
		return
	}

	// 1. Check user, then password; both always run
	userOK := subtle.ConstantTimeCompare([]byte(loginReq.Username), []byte(admin.Username)) == 1
	passOK := utils.CheckPasswordHash(loginReq.Password, admin.PasswordHash)
	if !userOK || !passOK {
		log.Printf("⚠️ Admin login failed for %q", loginReq.Username)
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	// 2. Generate token
	token, err := utils.GenerateAdminToken(admin.Username, r.svc.Config.JWTSecret, r.svc.Config.JWTTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": token,
		"expiresIn":   int(r.svc.Config.JWTTTL.Seconds()),
		"user":        admin.Username,
	})
}
