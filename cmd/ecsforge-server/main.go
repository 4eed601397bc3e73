// Command ecsforge-server is the bootstrap entrypoint: it loads
// configuration, wires the scene/bus/commit/netio subsystems together, binds
// the operator HTTP/gRPC/websocket surfaces, and starts the epoll reactor.
// Gameplay logic itself lives outside this binary, in hot-reloadable shared
// libraries under internal/dynlib's library directory.
package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/ecsforge/internal/admin"
	"github.com/ocx/ecsforge/internal/bus"
	"github.com/ocx/ecsforge/internal/commit"
	"github.com/ocx/ecsforge/internal/config"
	"github.com/ocx/ecsforge/internal/dynlib"
	"github.com/ocx/ecsforge/internal/events"
	"github.com/ocx/ecsforge/internal/netio"
	"github.com/ocx/ecsforge/internal/persist"
	"github.com/ocx/ecsforge/internal/scene"
	"github.com/ocx/ecsforge/internal/session"
	"github.com/ocx/ecsforge/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading configuration from the environment only")
	}

	cfg := config.Get()
	slog.Info("ecsforge-server starting", "listen_addr", cfg.Server.ListenAddr)

	metrics := telemetry.NewMetrics()
	evtBus := events.NewBus()

	libraries := dynlib.NewManager(cfg.Dynlib.LibraryDir)
	scenes := scene.NewManager(cfg.Scene.AroundRadiusGrids)
	sessions := session.NewRegistry(scenes)
	requests := bus.New(bus.Config{KeepOrder: cfg.Bus.KeepOrder, KeepDuplicate: cfg.Bus.KeepDuplicate}, nil)

	persistSink := buildPersistSink(cfg, metrics)

	// The reactor itself satisfies commit.OutboundSink (Send(token, framed))
	// and scenes satisfies commit.FullSyncSource (DrainFullSync) directly —
	// neither needs an adapter.
	var reactor *netio.Reactor

	onFrame := func(frame netio.Frame) {
		entity, ok := sessions.EntityForConn(frame.ConnID)
		if !ok {
			slog.Warn("dropping frame from unauthenticated connection", "conn_id", frame.ConnID, "command_id", frame.CommandID)
			return
		}
		if err := requests.Dispatch(entity, frame.CommandID, frame.Body); err != nil {
			slog.Warn("bus dispatch failed", "entity", entity, "command_id", frame.CommandID, "error", err)
		}
	}
	onDisconnect := func(connID uint64) {
		entity, ok := sessions.UnbindConn(connID)
		if !ok {
			return
		}
		requests.DropEntity(entity)
		metrics.RecordConnectionClosed("client_closed")
		evtBus.Emit(events.KindConnectionClosed, "netio", "", map[string]interface{}{"entity": entity, "conn_id": connID})
	}

	var err error
	reactor, err = netio.New(netio.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		PollTimeout:     time.Duration(cfg.Server.PollTimeoutMs) * time.Millisecond,
		IdleTimeout:     time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
		ReadBufferBytes: cfg.Server.ReadBufferBytes,
	}, onFrame, onDisconnect, log.New(log.Writer(), "[NETIO] ", log.LstdFlags))
	if err != nil {
		log.Fatalf("failed to start reactor: %v", err)
	}

	dirty := &commit.DirtyFlag{}
	commitSystem := commit.NewSystem(cfg.Commit.TickStep, dirty, sessions, reactor, persistSink, scenes, nil)
	_ = commitSystem // bound per component type by the hot-reloaded tick system; see internal/commit.Run

	adminCore := admin.NewCore(libraries, scenes, requests, evtBus)
	liveFeed := admin.NewLiveFeed(evtBus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go liveFeed.Run()
	defer liveFeed.Close()

	if cfg.Admin.Enabled {
		startAdminSurfaces(ctx, cfg, adminCore, liveFeed)
	}
	startMetricsServer(cfg)

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, closing reactor")
		reactor.Close()
	}()

	slog.Info("reactor running", "listen_addr", cfg.Server.ListenAddr)
	if err := reactor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("reactor exited: %v", err)
	}
	slog.Info("ecsforge-server stopped")
}

func buildPersistSink(cfg *config.Config, metrics *telemetry.Metrics) persist.Sink {
	switch cfg.Persist.Backend {
	case "redis":
		adapter, err := persist.NewRedisAdapter(cfg.Persist.Redis.Addr, cfg.Persist.Redis.Password, cfg.Persist.Redis.DB)
		if err != nil {
			slog.Warn("redis persist backend unavailable, falling back to no-op", "error", err)
			return noopSink{}
		}
		return persist.NewRedisSink(adapter, cfg.Persist.Redis.ListKeyPrefix, metrics, nil)
	case "postgres":
		sink, _, err := persist.NewPostgresSink(cfg.Persist.Postgres.DSN, cfg.Persist.Postgres.TableName, metrics, nil)
		if err != nil {
			slog.Warn("postgres persist backend unavailable, falling back to no-op", "error", err)
			return noopSink{}
		}
		return sink
	default:
		return noopSink{}
	}
}

// noopSink is used when no Database-direction backend is configured; the
// commit system still runs, it just has nowhere to persist to.
type noopSink struct{}

func (noopSink) Persist(entity persist.EntityID, commandID uint32, framed []byte) {}

func startAdminSurfaces(ctx context.Context, cfg *config.Config, core *admin.Core, liveFeed *admin.LiveFeed) {
	httpSrv := admin.NewHTTPServer(core, cfg.Admin.AllowedOrigins)
	router := httpSrv.Router()
	router.HandleFunc(cfg.Admin.LiveFeedPath, liveFeed.HandleWebSocket)

	go func() {
		slog.Info("admin HTTP surface listening", "addr", cfg.Admin.HTTPAddr)
		srv := &http.Server{Addr: cfg.Admin.HTTPAddr, Handler: router}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin HTTP surface failed", "error", err)
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.Admin.GRPCAddr)
		if err != nil {
			slog.Error("admin gRPC surface failed to bind", "addr", cfg.Admin.GRPCAddr, "error", err)
			return
		}
		grpcSrv := admin.NewGRPCServer(core)
		go func() {
			<-ctx.Done()
			grpcSrv.GracefulStop()
		}()
		slog.Info("admin gRPC surface listening", "addr", cfg.Admin.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("admin gRPC surface stopped", "error", err)
		}
	}()
}

func startMetricsServer(cfg *config.Config) {
	if cfg.Telemetry.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		slog.Info("metrics server listening", "addr", cfg.Telemetry.MetricsAddr)
		if err := http.ListenAndServe(cfg.Telemetry.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
