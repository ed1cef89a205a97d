package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/tickgraph/internal/application/orchestrator"
	"github.com/aescanero/tickgraph/internal/application/workers"
	"github.com/aescanero/tickgraph/internal/config"
	"github.com/aescanero/tickgraph/internal/graphs"
	"github.com/aescanero/tickgraph/internal/tracing"
	"github.com/aescanero/tickgraph/pkg/adapters/archive/azure"
	"github.com/aescanero/tickgraph/pkg/adapters/llm"
	"github.com/aescanero/tickgraph/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/tickgraph/pkg/adapters/reporting/sentry"
	"github.com/aescanero/tickgraph/pkg/api/grpc"
	"github.com/aescanero/tickgraph/pkg/api/http"
	"github.com/aescanero/tickgraph/pkg/api/websocket"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	logger.Info("starting tickgraph",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("tickgraph failed", zap.Error(err))
	}

	logger.Info("tickgraph shut down complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.closeAll(logger)

	// Tracing
	tracer, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "tickgraph",
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	cleanup.add(func() error { return tracer.Shutdown(cfg.Timeouts.ShutdownTimeout) })

	// Backends
	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient, err = connectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		cleanup.add(redisClient.Close)
	}

	stateStorage, err := newStateStorage(ctx, cfg, redisClient, &cleanup, logger)
	if err != nil {
		return fmt.Errorf("failed to create state storage: %w", err)
	}

	eventBus, err := newEventBus(ctx, cfg, redisClient, &cleanup, logger)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}

	logger.Info("backends ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("events", cfg.Events.Backend))

	metricsCollector := prometheus.NewCollector(promclient.DefaultRegisterer)

	managerOpts := []orchestrator.ManagerOption{
		orchestrator.WithTracer(tracer.Tracer()),
		orchestrator.WithRunTimeout(cfg.Timeouts.RunTimeout),
		orchestrator.WithEngineOptions(
			orchestration.WithMaxAttempts(cfg.Engine.MaxAttempts),
			orchestration.WithFaultPolicy(cfg.FaultPolicy()),
			orchestration.WithStepLog(cfg.Engine.StepLog),
			orchestration.WithNodeTimeout(cfg.Timeouts.NodeTimeout),
		),
	}

	// Optional integrations
	if cfg.Archive.ConnectionString != "" {
		archiver, err := azure.NewArchiver(cfg.Archive.ConnectionString, cfg.Archive.Container, logger)
		if err != nil {
			return fmt.Errorf("failed to create run archiver: %w", err)
		}
		managerOpts = append(managerOpts, orchestrator.WithArchiver(archiver))
		logger.Info("run archive enabled", zap.String("container", cfg.Archive.Container))
	}

	if cfg.Sentry.DSN != "" {
		reporter, err := sentry.NewReporter(sentry.Config{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Environment,
			Release:     Version,
			SampleRate:  cfg.Sentry.SampleRate,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create error reporter: %w", err)
		}
		managerOpts = append(managerOpts, orchestrator.WithErrorReporter(reporter))
		logger.Info("error reporting enabled")
	}

	// Worker pool
	var workerPool *workers.Pool
	if cfg.Engine.UseWorkers {
		workerPool = workers.NewPool(cfg.Workers.PoolSize, metricsCollector, logger, cfg.Workers.HealthCheckInterval)
		if err := workerPool.Start(); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
		managerOpts = append(managerOpts, orchestrator.WithExecutor(workerPool))
	} else if cfg.Engine.Concurrency > 0 {
		managerOpts = append(managerOpts,
			orchestrator.WithEngineOptions(orchestration.WithConcurrency(cfg.Engine.Concurrency)))
	}

	// Graph catalog
	validator := orchestrator.NewValidator()
	catalog, err := buildCatalog(cfg, validator, logger)
	if err != nil {
		return err
	}

	orchestratorMgr := orchestrator.NewManager(
		catalog,
		validator,
		eventBus,
		stateStorage,
		metricsCollector,
		logger,
		managerOpts...,
	)

	// API servers
	httpCfg := &http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	}
	grpcCfg := &grpc.Config{
		Port:          cfg.GRPCPort,
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	}
	if workerPool != nil {
		httpCfg.Workers = workerPool.Health()
		grpcCfg.Checker = workerPool.Health()
	}

	httpServer := http.NewServer(httpCfg)
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, orchestratorMgr, logger))

	grpcServer, err := grpc.NewServer(grpcCfg)
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	logger.Info("tickgraph started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("graphs", len(catalog.List())),
		zap.Bool("worker_pool", workerPool != nil))

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
		if workerPool != nil {
			if err := workerPool.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("worker pool shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// buildCatalog registers the built-in graphs and any script definitions
func buildCatalog(cfg *config.Config, validator *orchestrator.Validator, logger *zap.Logger) (*orchestrator.Catalog, error) {
	catalog := orchestrator.NewCatalog(validator)

	if err := catalog.Register(graphs.EchoName, "Returns its input unchanged", graphs.Echo); err != nil {
		return nil, err
	}
	if err := catalog.Register(graphs.TextName, "Normalizes text and reports title and statistics", graphs.Text); err != nil {
		return nil, err
	}

	if cfg.LLM.APIKey != "" {
		completer, err := llm.NewClient(&llm.Config{
			Provider:  cfg.LLM.Provider,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.DefaultModel,
			MaxTokens: cfg.LLM.DefaultMaxTokens,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		if err := catalog.Register(graphs.AgentName, "Drafts and reviews an answer with an LLM",
			graphs.Agent(completer, cfg.LLM.AgentRounds)); err != nil {
			return nil, err
		}
	} else {
		logger.Info("LLM API key not set, agent graph disabled")
	}

	if cfg.GraphDir != "" {
		scripts, err := graphs.LoadDefinitions(cfg.GraphDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load graph definitions: %w", err)
		}
		for _, sg := range scripts {
			if err := catalog.Register(sg.Name(), sg.Description(), sg.Build); err != nil {
				return nil, fmt.Errorf("failed to register graph %s: %w", sg.Name(), err)
			}
		}
		logger.Info("loaded script graphs",
			zap.String("dir", cfg.GraphDir),
			zap.Int("count", len(scripts)))
	}

	return catalog, nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
