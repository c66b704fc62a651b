package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/internal/assessment"
	"github.com/pitabwire/bugtriage/internal/definition"
	"github.com/pitabwire/bugtriage/internal/execution"
	"github.com/pitabwire/bugtriage/internal/migrate"
	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/internal/transport"
	"github.com/pitabwire/bugtriage/internal/workflow"
)

func serveCmd(configPath *string) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending database migrations on startup")
	return cmd
}

func serve(configPath string, applyMigrations bool) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "bug-triage", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registerer)

	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.pool != nil && applyMigrations {
		if err := migrate.Apply(ctx, st.pool, logger.Named("migrate")); err != nil {
			return err
		}
	}

	registry := definition.NewRegistry(st.definitions)
	publisher := definition.NewPublisher(st.definitions, logger.Named("definitions"))
	actor := cfg.Workflow.SystemActor

	dirs := existingDirs(cfg.Definitions.Directories, logger)
	if err := syncDefinitions(ctx, dirs, publisher, metrics, actor, logger); err != nil {
		return err
	}
	if cfg.Definitions.PublishCanonical {
		def, published, err := assessment.EnsureCanonical(ctx, registry, publisher, actor)
		if err != nil {
			return err
		}
		if published {
			logger.Info("canonical workflow published", zap.String("id", def.ID), zap.Int("version", def.Version))
		}
	}

	idem, idemHealth, idemClose, err := openIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		return err
	}
	defer idemClose()

	engineOpts := []workflow.Option{
		workflow.WithLogger(logger.Named("workflow")),
		workflow.WithRecorder(metrics),
	}
	if idem != nil {
		engineOpts = append(engineOpts, workflow.WithIdempotencyStore(idem, cfg.Idempotency.Store.DefaultTTL))
	}
	engine := workflow.NewEngine(registry, execution.NewManager(st.executions), engineOpts...)
	generator := assessment.NewGenerator(engine,
		assessment.WithLogger(logger.Named("assessment")),
		assessment.WithMaxAutoSteps(cfg.Workflow.MaxAutoSteps),
	)

	var (
		authenticate func(http.Handler) http.Handler
		idp          observability.HealthChecker
	)
	if cfg.Identity.Enabled {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		authenticate = transport.JWTAuthenticator(cfg.Identity, jwks)
		idp = jwks
	} else {
		logger.Warn("identity verification disabled", zap.String("actor", cfg.Identity.AnonymousActor))
	}

	readiness := new(observability.Readiness).
		Add("definitions", observability.HealthCheckFunc(func(ctx context.Context) error {
			_, err := registry.LoadByName(ctx, assessment.WorkflowName)
			return err
		})).
		Add("database", st.health).
		Add("idempotency_store", idemHealth).
		Add("identity_provider", idp)

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: authenticate,
		Engine:       engine,
		Generator:    generator,
		Definitions:  registry,
		Metrics:      metrics,
		Gatherer:     registerer,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	var wg sync.WaitGroup

	if cfg.Definitions.HotReload && len(dirs) > 0 {
		watcher := definition.NewWatcher(dirs, cfg.Definitions.ReloadDebounce, publisher, logger.Named("watcher"))
		watcher.OnSync(func(res definition.SyncResult) {
			metrics.RecordDefinitionReload(len(res.Published), len(res.Unchanged), len(res.Failed))
		})
		wg.Go(func() {
			if err := watcher.Run(bgCtx); err != nil {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		})
	}
	if cfg.Workflow.TimeoutsEnabled {
		wg.Go(func() { engine.RunTimeouts(bgCtx, cfg.Workflow.TimeoutCheckInterval) })
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("database", cfg.Database.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()
	wg.Wait()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return serveErr
}

// syncDefinitions publishes every schema file under dirs whose content
// changed since the last publish.
func syncDefinitions(ctx context.Context, dirs []string, publisher *definition.Publisher, metrics *observability.Metrics, actor string, logger *zap.Logger) error {
	if len(dirs) == 0 {
		return nil
	}
	docs, err := definition.NewLoader().LoadAll(dirs)
	if err != nil {
		return fmt.Errorf("definitions: %w", err)
	}

	res := publisher.Sync(ctx, docs, actor)
	metrics.RecordDefinitionReload(len(res.Published), len(res.Unchanged), len(res.Failed))
	for source, err := range res.Failed {
		logger.Error("definition not published", zap.String("source", source), zap.Error(err))
	}
	logger.Info("definitions synced",
		zap.Int("documents", len(docs)),
		zap.Int("published", len(res.Published)),
		zap.Int("unchanged", len(res.Unchanged)),
		zap.Int("failed", len(res.Failed)),
	)
	return nil
}

// existingDirs drops configured directories that are absent on disk.
func existingDirs(dirs []string, logger *zap.Logger) []string {
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			logger.Warn("definition directory not found", zap.String("dir", dir))
			continue
		}
		out = append(out, dir)
	}
	return out
}
