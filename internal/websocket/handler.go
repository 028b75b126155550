package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// Serve upgrades the request and runs it as a client of userID until the
// connection closes. The caller must have authenticated the request.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("accept", "error", err)
		return
	}

	client := NewClient(h, conn, userID)
	client.Run(r.Context())
}
