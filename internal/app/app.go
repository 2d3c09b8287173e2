// Package app wires every component together and runs the control plane's
// single HTTP server. It is the only place that knows the full dependency
// graph; every other package depends only on the interfaces it needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentctl/controlplane/internal/config"
	"github.com/agentctl/controlplane/internal/controlapi"
	"github.com/agentctl/controlplane/internal/httpserver"
	"github.com/agentctl/controlplane/internal/platform"
	"github.com/agentctl/controlplane/internal/telemetry"
	"github.com/agentctl/controlplane/pkg/agentproxy"
	"github.com/agentctl/controlplane/pkg/clone"
	"github.com/agentctl/controlplane/pkg/lifecycle"
	"github.com/agentctl/controlplane/pkg/orchestrator"
	"github.com/agentctl/controlplane/pkg/renderer"
	"github.com/agentctl/controlplane/pkg/store"
)

// Run reads configuration, connects to infrastructure, and serves the
// Control API until ctx is cancelled. A fatal startup error (unreachable
// database, unreachable cluster) returns non-zero from main per spec.md §6.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting agentctl", "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "agentctl", "dev")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	orch, err := orchestrator.NewClient(cfg.KubeconfigPath)
	if err != nil {
		return fmt.Errorf("connecting to cluster: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	st := store.NewStore(db)
	cloner := clone.New(orch, logger)

	activationBudget, err := time.ParseDuration(cfg.ActivationBudget)
	if err != nil {
		return fmt.Errorf("parsing activation budget %q: %w", cfg.ActivationBudget, err)
	}
	controlOpBudget, err := time.ParseDuration(cfg.ControlOpBudget)
	if err != nil {
		return fmt.Errorf("parsing control op budget %q: %w", cfg.ControlOpBudget, err)
	}
	deactivationTimeout, err := time.ParseDuration(cfg.DeactivationTimeout)
	if err != nil {
		return fmt.Errorf("parsing deactivation timeout %q: %w", cfg.DeactivationTimeout, err)
	}

	engine := lifecycle.New(st, orch, cloner, rdb, logger, lifecycle.Config{
		RendererConfig: renderer.Config{
			BaseDomain:         cfg.BaseDomain,
			IngressClass:       cfg.IngressClass,
			IngressTLSSecret:   cfg.IngressTLSSecret,
			EnableIngress:      cfg.EnableIngress,
			AgentImage:         cfg.AgentImage,
			AgentContainerPort: cfg.AgentContainerPort,
			AgentHealthPath:    cfg.AgentHealthPath,
		},
		ActivationBudget:    activationBudget,
		ControlOpBudget:     controlOpBudget,
		DeactivationTimeout: deactivationTimeout,
	})

	proxy := agentproxy.New(st, &http.Client{})

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg)

	apiHandler := controlapi.NewHandler(st, engine, proxy, logger)
	srv.Router.Mount("/users", apiHandler.Routes(st))

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
		// No WriteTimeout: the streaming chat relay can run indefinitely.
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
