package handlers

import (
	"net/http"

	"household-planet/internal/logger"
	"household-planet/internal/models"
)

// AuthHandler handles login.
type AuthHandler struct {
	service AuthService
	log     *logger.Logger
}

func NewAuthHandler(service AuthService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{service: service, log: log}
}

// Login exchanges email and password for an access token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to log in")
		return
	}

	h.log.WithField("user_id", resp.User.ID).Info("User logged in")
	writeJSONResponse(w, http.StatusOK, resp)
}
