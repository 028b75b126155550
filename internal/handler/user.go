package handler

import (
	"net/http"
	"strconv"

	"github.com/dukerupert/lingo/internal/account"
	"github.com/dukerupert/lingo/internal/apperr"
	"github.com/dukerupert/lingo/internal/auth"
)

type UserHandler struct {
	svc *account.Service
	rs  *Responder
}

func NewUserHandler(svc *account.Service, rs *Responder) *UserHandler {
	return &UserHandler{svc: svc, rs: rs}
}

// pathID returns the {id} path value, or 0 when it is not a positive integer.
// No user has id 0, so lookups miss and ownership checks fail.
func pathID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// queryInt returns the integer query parameter name, or def when absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return n
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		h.rs.Error(w, r, &apperr.ValidationError{})
		return
	}
	if err := h.svc.Register(r.Context(), req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Message(w, r, http.StatusOK, "user_create_success")
}

func (h *UserHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Activate(r.Context(), r.PathValue("token")); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Message(w, r, http.StatusOK, "account_activation_success")
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.List(r.Context(),
		auth.UserID(r.Context()),
		queryInt(r, "page", 0),
		queryInt(r, "size", account.MaxPageSize),
	)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(r.Context(), pathID(r))
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserID(r.Context())
	id := pathID(r)
	if actor == 0 || actor != id {
		h.rs.Error(w, r, apperr.WithKey(apperr.ErrForbidden, "unauth_update"))
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rs.Error(w, r, &apperr.ValidationError{})
		return
	}
	u, err := h.svc.UpdateUsername(r.Context(), actor, id, req.Username)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.UserID(r.Context()), pathID(r)); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *UserHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rs.Error(w, r, &apperr.ValidationError{})
		return
	}
	if err := h.svc.RequestReset(r.Context(), req.Email); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Message(w, r, http.StatusOK, "password_reset_request_success")
}

func (h *UserHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PasswordResetToken string `json:"passwordResetToken"`
		Password           string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rs.Error(w, r, &apperr.ValidationError{})
		return
	}
	if err := h.svc.CompleteReset(r.Context(), req.PasswordResetToken, req.Password); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Message(w, r, http.StatusOK, "password_reset_success")
}
