package hertzapi

import (
	"context"
	"errors"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/hertzws"
	"syncroom/internal/logging"
	"syncroom/internal/protocol"
	"syncroom/internal/rooms"
)

// NewRouter 初始化Hertz路由
func NewRouter(ctx context.Context, h *server.Hertz, roomManager *rooms.Manager, d *dispatch.Dispatcher, cfg config.WebSocketConfig) *server.Hertz {
	wsHandler := hertzws.NewHandler(ctx, d, cfg)
	// https://github.com/cloudwego/hertz/issues/121
	h.NoHijackConnPool = true

	h.Use(recoveryMiddleware(ctx))
	h.Use(loggerMiddleware())

	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		api.GET("/stats", handleStats(d))
		api.GET("/rooms/:roomId", handleGetRoom(roomManager))
	}

	h.GET("/ws", wsHandler.HandleWebSocket)

	return h
}

// recoveryMiddleware 恢复中间件
func recoveryMiddleware(base context.Context) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				l := logging.Ctx(base)
				l.Error().Interface("panic", err).Str("path", string(ctx.Path())).Msg("handler panic")
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

// loggerMiddleware 日志中间件
func loggerMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Next(c)
		ilog.EventInfo(c, "request", "method", string(ctx.Method()), "path", string(ctx.Path()), "status", ctx.Response.StatusCode())
	}
}

// handleGetRoom 获取房间状态处理函数
func handleGetRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		state, err := roomManager.GetState(roomID)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "state_fetch_failed", err.Error())
			return
		}
		ilog.EventInfo(c, "GetRoom", "roomID", roomID, "participants", len(state.Participants))
		ctx.JSON(consts.StatusOK, state)
	}
}

func handleStats(d *dispatch.Dispatcher) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, d.Stats())
	}
}

// respondError 返回错误响应
func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, protocol.Envelope{
		Kind: "ERROR",
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
