package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/agent-registry/pkg/audit"
	"github.com/Mindburn-Labs/agent-registry/pkg/config"
	"github.com/Mindburn-Labs/agent-registry/pkg/observability"
	"github.com/Mindburn-Labs/agent-registry/pkg/policy"
	"github.com/Mindburn-Labs/agent-registry/pkg/registry"
	"github.com/Mindburn-Labs/agent-registry/pkg/server"
	"github.com/Mindburn-Labs/agent-registry/pkg/store"
)

func runServer(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sAgent Registry starting...%s\n", ColorBold+ColorBlue, ColorReset)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// serve runs until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	backend, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = backend.Close() }()
	log.Printf("[agentreg] store: %s ready", cfg.Store.Driver)

	otelCfg := observability.DefaultConfig()
	otelCfg.ServiceVersion = server.Version
	otelCfg.Enabled = cfg.Telemetry.Enabled
	otelCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	otelCfg.Insecure = cfg.Telemetry.Insecure
	otelCfg.Environment = cfg.Telemetry.Environment
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	admission, err := policy.NewAdmission(cfg.AdmissionPolicy)
	if err != nil {
		return fmt.Errorf("admission policy: %w", err)
	}
	if expr := admission.Expression(); expr != "" {
		log.Printf("[agentreg] admission policy: %s", expr)
	}

	auditLog := audit.NewLog(audit.WithMaxEntries(cfg.AuditMaxEntries))
	reg := registry.New(backend,
		registry.WithAdmission(admission),
		registry.WithObserver(auditLog),
		registry.WithTelemetry(telemetry),
		registry.WithLogger(logger.With("component", "registry")),
	)

	srv, err := server.New(reg, server.Config{
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		MaxTokenAge:    cfg.Auth.MaxTokenAge,
		MaxBodyBytes:   cfg.Auth.MaxBodyBytes,
		CORSOrigins:    cfg.CORSOrigins,
	},
		server.WithAuditLog(auditLog),
		server.WithPinger(backend),
		server.WithLogger(logger.With("component", "server")),
	)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[agentreg] ready: http://localhost:%s", cfg.Port)
		log.Println("[agentreg] press ctrl+c to stop")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[agentreg] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
