package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/logging"
	"syncroom/internal/wsconn"
)

type Handler struct {
	ctx        context.Context
	dispatcher *dispatch.Dispatcher
	cfg        config.WebSocketConfig
	upgrader   websocket.Upgrader
}

// NewHandler serves websocket upgrades. Connections are closed when ctx ends.
func NewHandler(ctx context.Context, d *dispatch.Dispatcher, cfg config.WebSocketConfig) *Handler {
	return &Handler{
		ctx:        ctx,
		dispatcher: d,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := logging.Ctx(h.ctx)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		l.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	peer := wsconn.NewPeer(uuid.NewString(), conn, h.cfg)
	wsconn.Serve(h.ctx, peer, h.dispatcher)
}
