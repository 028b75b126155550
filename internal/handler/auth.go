package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/lingo/internal/account"
	"github.com/dukerupert/lingo/internal/apperr"
	"github.com/dukerupert/lingo/internal/auth"
)

type AuthHandler struct {
	svc    *account.Service
	rs     *Responder
	logger *slog.Logger
}

func NewAuthHandler(svc *account.Service, rs *Responder, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, rs: rs, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rs.Error(w, r, apperr.ErrAuthFailure)
		return
	}

	res, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.logger.Info("user logged in", "user_id", res.ID)
	writeJSON(w, http.StatusOK, res)
}

// Logout revokes the bearer token on the request, valid or not.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), auth.BearerToken(r)); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
