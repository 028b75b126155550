package handler

import (
	"net/http"

	"github.com/dukerupert/lingo/internal/apperr"
	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/websocket"
)

// LiveHandler upgrades authenticated requests to the per-user live channel.
type LiveHandler struct {
	hub *websocket.Hub
	rs  *Responder
}

func NewLiveHandler(hub *websocket.Hub, rs *Responder) *LiveHandler {
	return &LiveHandler{hub: hub, rs: rs}
}

func (h *LiveHandler) Connect(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		h.rs.Error(w, r, apperr.ErrAuthFailure)
		return
	}
	h.hub.Serve(w, r, id.UserID)
}
