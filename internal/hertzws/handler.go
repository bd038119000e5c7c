package hertzws

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"github.com/hertz-contrib/websocket"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/logging"
	"syncroom/internal/wsconn"
)

// Handler WebSocket处理器
type Handler struct {
	ctx        context.Context
	dispatcher *dispatch.Dispatcher
	cfg        config.WebSocketConfig
	upgrader   websocket.HertzUpgrader
}

// NewHandler 创建新的WebSocket处理器, ctx结束时关闭所有连接
func NewHandler(ctx context.Context, d *dispatch.Dispatcher, cfg config.WebSocketConfig) *Handler {
	return &Handler{
		ctx:        ctx,
		dispatcher: d,
		cfg:        cfg,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

// HandleWebSocket 处理WebSocket连接
func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	l := logging.Ctx(h.ctx)
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		peer := wsconn.NewPeer(uuid.NewString(), conn, h.cfg)
		wsconn.Serve(h.ctx, peer, h.dispatcher)
	})
	if err != nil {
		l.Warn().Err(err).Str("remote", ctx.ClientIP()).Msg("websocket upgrade failed")
	}
}
