package feed

import (
	"net/http"

	"github.com/gorilla/websocket"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Feeds are authenticated by token, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests to feed connections.
type Handler struct {
	hub    *Hub
	tokens *Tokens
	log    *logger.Logger
}

func NewHandler(hub *Hub, tokens *Tokens) *Handler {
	return &Handler{hub: hub, tokens: tokens, log: logger.Default().WithComponent("feed")}
}

// ServeHTTP authenticates with a bearer header or ?token=<jwt>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(h.tokens, r)
	if err != nil {
		apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := NewClient(h.hub, conn, claims.ChatID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
