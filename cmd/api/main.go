package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tripdesk/planner/internal/di"
	"github.com/tripdesk/planner/internal/handlers"
	"github.com/tripdesk/planner/internal/platform/config"
	"github.com/tripdesk/planner/internal/platform/idempotency"
	"github.com/tripdesk/planner/internal/platform/observability"
	"github.com/tripdesk/planner/internal/platform/secrets"
	"github.com/tripdesk/planner/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "planner api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"])
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger.Named("planner")))
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	var workers sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	workers.Add(1)
	go func() {
		defer workers.Done()
		runFlushLoop(workerCtx, container.Services.Planner, cfg.Planner.FlushInterval, logger.Named("flush"))
	}()
	if subscriber := container.AgentResponses; subscriber != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			subLogger := logger.Named("agent_responses").With(zap.String("subscription", cfg.PubSub.ResponseSubscription))
			subLogger.Info("agent response subscriber started")
			if err := subscriber.Run(workerCtx); err != nil {
				subLogger.Error("agent response subscriber stopped", zap.Error(err))
			}
		}()
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	buildInfo := services.BuildInfo{
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		StartedAt:   time.Now().UTC(),
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)
	tripHandlers := handlers.NewTripHandlers(container.Services.Planner,
		handlers.WithTripRateLimit(cfg.RateLimits.DefaultPerMinute, time.Now),
		handlers.WithAgentRequestRateLimit(cfg.RateLimits.AgentRequestsPerMinute, cfg.RateLimits.AgentRequestBurst, time.Now),
		handlers.WithIdempotency(container.Idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithTripRoutes(tripHandlers.Routes),
		handlers.WithHandlerTimeout(cfg.Server.WriteTimeout-time.Second),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("planner api listening",
			zap.String("environment", cfg.App.Environment),
			zap.String("sessionBackend", cfg.Planner.SessionBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	cancelWorkers()
	workers.Wait()
	return runErr
}

// runFlushLoop persists dirty sessions and evicts idle ones until ctx is done.
func runFlushLoop(ctx context.Context, planner services.TripPlannerService, interval time.Duration, logger *zap.Logger) {
	if planner == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			err := planner.FlushSessions(runCtx)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("session flush error", zap.Error(err))
				continue
			}
			logger.Debug("sessions flushed", zap.Int("active", planner.ActiveSessions()))
		case <-ctx.Done():
			return
		}
	}
}

func traceProjectID(cfg config.Config) string {
	if project := strings.TrimSpace(cfg.Firestore.ProjectID); project != "" {
		return project
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	project := lookup("PLANNER_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookup("PLANNER_FIRESTORE_PROJECT_ID")
	}
	fallback := lookup("PLANNER_SECRETS_FALLBACK_FILE")
	if fallback == "" {
		fallback = ".secrets.local"
	}
	return secrets.NewResolver(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallback),
	)
}
