package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/asakaida/stepscope/internal/handlers"
	"github.com/asakaida/stepscope/internal/infrastructure/config"
	"github.com/asakaida/stepscope/internal/infrastructure/database"
	"github.com/asakaida/stepscope/internal/infrastructure/logging"
	"github.com/asakaida/stepscope/internal/infrastructure/metrics"
	"github.com/asakaida/stepscope/internal/infrastructure/objectstore"
	"github.com/asakaida/stepscope/internal/repositories/postgres"
	"github.com/asakaida/stepscope/internal/services"
	"github.com/asakaida/stepscope/pkg/cache/memorycache"
)

const (
	defaultEnv      = "dev"
	shutdownTimeout = 30 * time.Second

	metricsRefreshInterval = 15 * time.Second
	slowRPCThreshold       = 10 * time.Second
)

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector()
	exporter := metrics.NewPrometheusExporter(collector, registry)
	collector.SetExporter(exporter)

	// Cache gauges are sampled rather than event driven
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go func() {
		ticker := time.NewTicker(metricsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				exporter.Update()
			}
		}
	}()

	// Parse session cache
	var sessions *memorycache.Cache[*services.Session]
	if cfg.Cache.Enabled {
		sessions, err = memorycache.New(&memorycache.Config[*services.Session]{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
			EnableMetrics: cfg.Cache.Metrics,
			SizeOf:        services.SessionSizeOf,
		})
		if err != nil {
			logger.Fatal("failed to create session cache", zap.Error(err))
		}
		defer sessions.Close()
		collector.SetCache(sessions)
		logger.Info("session cache enabled",
			zap.Int64("max_memory_bytes", cfg.Cache.MaxMemoryBytes),
			zap.Int("ttl_minutes", cfg.Cache.TTLMinutes),
		)
	}

	var svc *services.ExtractionService
	if sessions != nil {
		svc = services.NewExtractionService(cfg, sessions, collector, logger)
	} else {
		svc = services.NewExtractionService(cfg, nil, collector, logger)
	}

	// s3:// inputs
	if cfg.ObjectStore.Enabled {
		objects, err := objectstore.NewClient(cfg.ObjectStore, logger)
		if err != nil {
			logger.Fatal("failed to create object store client", zap.Error(err))
		}
		svc.SetObjectSource(objects)
		logger.Info("object store enabled",
			zap.String("endpoint", cfg.ObjectStore.Endpoint),
			zap.String("region", cfg.ObjectStore.Region),
		)
	}

	// Run persistence
	var pg *database.Postgres
	if cfg.Database.Enabled {
		pg, err = database.NewPostgres(&cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		if err := pg.RunMigrations(); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		svc.SetRunRepository(postgres.NewPostgresRunRepository(pg.DB))
		logger.Info("connected to database",
			zap.String("user", cfg.Database.User),
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Database),
		)
	}

	handler := handlers.NewExtractionHandler(svc, services.DefaultExtractOptions(cfg), logger)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter,
			metrics.WithLogger(logger),
			metrics.WithSlowThreshold(slowRPCThreshold),
		)),
		grpc.MaxRecvMsgSize(256<<20),
		grpc.MaxSendMsgSize(256<<20),
	)
	handlers.RegisterExtractionServiceServer(grpcServer, handler)

	// Register reflection service (for grpcurl, etc.)
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if pg != nil {
			if err := pg.HealthCheck(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", listener.Addr().String()))
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server failed", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down metrics server", zap.Error(err))
	}

	if pg != nil {
		if err := pg.Close(); err != nil {
			logger.Warn("error closing database connection", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
}
