package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/app/server"
	"golang.org/x/sync/errgroup"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/hertzapi"
	"syncroom/internal/httpapi"
	"syncroom/internal/logging"
	"syncroom/internal/rooms"
)

type listener interface {
	start() error
	shutdown(ctx context.Context) error
}

type hertzListener struct{ h *server.Hertz }

func (l hertzListener) start() error                       { return l.h.Run() }
func (l hertzListener) shutdown(ctx context.Context) error { return l.h.Shutdown(ctx) }

type echoListener struct {
	s    *httpapi.Server
	addr string
}

func (l echoListener) start() error                       { return l.s.Start(l.addr) }
func (l echoListener) shutdown(ctx context.Context) error { return l.s.Shutdown(ctx) }

func main() {
	configPath := flag.String("config", "./config", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log)
	log := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, log)

	ids, err := rooms.NewNanoIDGenerator(cfg.Room.IDLength, rooms.DefaultIDAlphabet)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid room id settings")
	}
	roomManager := rooms.NewManager(
		rooms.WithIDGenerator(ids),
		rooms.WithMaxParticipants(cfg.Room.MaxParticipants),
		rooms.WithLogger(log),
	)
	dispatcher := dispatch.New(roomManager)

	addr := cfg.Server.Addr()
	var srv listener
	switch cfg.Server.Transport {
	case config.TransportEcho:
		srv = echoListener{s: httpapi.NewServer(ctx, roomManager, dispatcher, cfg.WebSocket), addr: addr}
	default:
		h := server.Default(server.WithHostPorts(addr))
		srv = hertzListener{h: hertzapi.NewRouter(ctx, h, roomManager, dispatcher, cfg.WebSocket)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("transport", cfg.Server.Transport).Msg("server starting")
		return srv.start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
