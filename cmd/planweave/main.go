package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	pwhttp "github.com/planweave/planweave/internal/adapter/http"
	pwmcp "github.com/planweave/planweave/internal/adapter/mcp"
	"github.com/planweave/planweave/internal/adapter/natsbroker"
	otelpw "github.com/planweave/planweave/internal/adapter/otel"
	"github.com/planweave/planweave/internal/adapter/platform"
	"github.com/planweave/planweave/internal/adapter/ristretto"
	"github.com/planweave/planweave/internal/adapter/ws"
	"github.com/planweave/planweave/internal/broker"
	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/discovery"
	"github.com/planweave/planweave/internal/dispatch"
	"github.com/planweave/planweave/internal/engine"
	"github.com/planweave/planweave/internal/logger"
	"github.com/planweave/planweave/internal/middleware"
	"github.com/planweave/planweave/internal/port/sink"
	"github.com/planweave/planweave/internal/registry"
	"github.com/planweave/planweave/internal/resilience"
	"github.com/planweave/planweave/internal/runpool"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent_runs", cfg.Engine.MaxConcurrentRuns,
	)

	if cfg.Signing.Secret == "" {
		slog.Warn("signing secret not set; inbound sub-plans will be rejected")
	}

	ctx := context.Background()

	// --- Observability ---
	shutdownTracer, err := otelpw.InitTracer(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	// --- Registry ---
	reg := registry.New()
	if err := registerBuiltins(reg); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}

	// --- Event sinks ---
	hub := ws.NewHub()
	sinks := []sink.Sink{ws.NewSink(hub)}

	if cfg.NATS.URL != "" {
		natsSink, err := natsbroker.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
		slog.Info("nats event sink connected", "url", cfg.NATS.URL)
	}
	shared := broker.NewFanOutSink(sinks...)

	// --- Backends ---
	platformClient := platform.NewClient(cfg.Platform.APIBase, cfg.Platform.APIKey)
	platformClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	disc := discovery.NewClient(cache, cfg.Cache.DiscoveryTTL)
	breakers := resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	disp := dispatch.New(cfg.Engine.CallTimeout,
		dispatch.NewLocal(),
		dispatch.NewHosted(platformClient),
		dispatch.NewExternal(disc, breakers),
	)

	// --- Engine ---
	itp := engine.New(reg, disp, engine.Config{MaxLoopIterations: cfg.Engine.MaxLoopIterations})
	runner := engine.NewRunner(itp, runpool.New(cfg.Engine.MaxConcurrentRuns))

	// --- MCP ---
	if cfg.MCP.Enabled {
		mcpSrv := pwmcp.NewServer(pwmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Agent.Name,
			Version: pwhttp.Version,
			APIKey:  cfg.MCP.APIKey,
		}, pwmcp.ServerDeps{
			Registry:   reg,
			Dispatcher: disp,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	// --- HTTP ---
	handlers := pwhttp.NewHandlers(reg, runner, cfg.Signing.Secret, cfg.Agent, shared)

	r := chi.NewRouter()
	r.Use(pwhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(pwhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otelpw.HTTPMiddleware(cfg.Logging.Service))

	pwhttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /execute-sub-plan streams for the lifetime of a run.
		IdleTimeout: 120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
