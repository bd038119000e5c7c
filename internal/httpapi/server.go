package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/logging"
	"syncroom/internal/protocol"
	"syncroom/internal/rooms"
	"syncroom/internal/ws"
)

type Server struct {
	rooms      *rooms.Manager
	dispatcher *dispatch.Dispatcher
	ws         *ws.Handler
	router     *echo.Echo
}

func NewServer(ctx context.Context, manager *rooms.Manager, d *dispatch.Dispatcher, cfg config.WebSocketConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l := logging.Ctx(ctx)
			l.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	server := &Server{
		rooms:      manager,
		dispatcher: d,
		ws:         ws.NewHandler(ctx, d, cfg),
		router:     e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/stats", server.handleStats)
	e.GET("/api/rooms/:roomId", server.handleGetRoom)
	e.GET("/ws", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	if err := s.router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}

func (s *Server) handleGetRoom(c echo.Context) error {
	state, err := s.rooms.GetState(c.Param("roomId"))
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			return respondError(c, http.StatusNotFound, "room_not_found", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "state_fetch_failed", err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dispatcher.Stats())
}

func (s *Server) handleWebSocket(c echo.Context) error {
	// The handler hijacks the connection, so echo must not write a response.
	s.ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.Envelope{
		Kind: "ERROR",
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
