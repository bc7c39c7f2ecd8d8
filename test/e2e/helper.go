package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/stepscope/internal/handlers"
	"github.com/asakaida/stepscope/internal/infrastructure/config"
	"github.com/asakaida/stepscope/internal/infrastructure/database"
	"github.com/asakaida/stepscope/internal/infrastructure/metrics"
	"github.com/asakaida/stepscope/internal/repositories"
	"github.com/asakaida/stepscope/internal/repositories/postgres"
	"github.com/asakaida/stepscope/internal/services"
	"github.com/asakaida/stepscope/pkg/cache/memorycache"
)

const bufSize = 1024 * 1024

// E2ETestServer represents an E2E test server
type E2ETestServer struct {
	Server    *grpc.Server
	Client    *handlers.ExtractionClient
	Collector *metrics.Collector
	Runs      repositories.RunRepository // nil unless persistence was requested
	Conn      *grpc.ClientConn
	DB        *sql.DB
	Listener  *bufconn.Listener
}

// SetupE2ETest sets up an E2E test environment. With persist the runs are
// stored in the test database, and the test is skipped when none is
// configured.
func SetupE2ETest(t *testing.T, persist bool) *E2ETestServer {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	// Initialize config for test environment
	require.NoError(t, config.InitConfig("test"), "failed to initialize config")
	if persist {
		if viper.GetString("DB_PASSWORD") == "" {
			t.Skip("DB_PASSWORD not set, skipping persistence scenario")
		}
		viper.Set("DB_ENABLED", true)
	}
	cfg, err := config.Load()
	require.NoError(t, err, "failed to load config")

	sessions, err := memorycache.New(&memorycache.Config[*services.Session]{
		MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
		DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		EnableMetrics: true,
		SizeOf:        services.SessionSizeOf,
	})
	require.NoError(t, err, "failed to create session cache")

	collector := metrics.NewCollector()
	collector.SetCache(sessions)
	svc := services.NewExtractionService(cfg, sessions, collector, nil)

	e := &E2ETestServer{Collector: collector}

	if persist {
		pg, err := database.NewPostgres(&cfg.Database)
		if err != nil {
			t.Skipf("test database unavailable: %v", err)
		}
		require.NoError(t, pg.RunMigrations(), "failed to run migrations")
		cleanupDatabase(t, pg.DB)

		e.DB = pg.DB
		e.Runs = postgres.NewPostgresRunRepository(pg.DB)
		svc.SetRunRepository(e.Runs)
	}

	handler := handlers.NewExtractionHandler(svc, services.DefaultExtractOptions(cfg), nil)

	// Create in-memory gRPC server with bufconn
	e.Listener = bufconn.Listen(bufSize)
	e.Server = grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, nil)))
	handlers.RegisterExtractionServiceServer(e.Server, handler)

	go func() {
		if err := e.Server.Serve(e.Listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	bufDialer := func(context.Context, string) (net.Conn, error) {
		return e.Listener.Dial()
	}

	e.Conn, err = grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err, "failed to create client connection")
	e.Client = handlers.NewExtractionClient(e.Conn)

	t.Cleanup(func() { e.Teardown(t) })
	return e
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Conn != nil {
		e.Conn.Close()
		e.Conn = nil
	}
	if e.Server != nil {
		e.Server.Stop()
		e.Server = nil
	}
	if e.Listener != nil {
		e.Listener.Close()
		e.Listener = nil
	}
	if e.DB != nil {
		cleanupDatabase(t, e.DB)
		e.DB.Close()
		e.DB = nil
	}
}

// cleanupDatabase removes all runs; records and errors cascade
func cleanupDatabase(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "DELETE FROM runs"); err != nil {
		t.Logf("warning: failed to clean up runs: %v", err)
	}
}

// Call builds a request from fields and invokes the RPC
func Call(t *testing.T, rpc func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error), fields map[string]any) (map[string]any, error) {
	t.Helper()

	req, err := structpb.NewStruct(fields)
	require.NoError(t, err, "failed to build request")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := rpc(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// Fixture reads a file from the geometry testdata directory
func Fixture(t *testing.T, name string) string {
	t.Helper()

	root, err := findProjectRoot()
	require.NoError(t, err, "failed to find project root")
	data, err := os.ReadFile(filepath.Join(root, "internal/services/geometry/testdata", name))
	require.NoError(t, err, "failed to read fixture %s", name)
	return string(data)
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("project root not found")
		}
		dir = parent
	}
}
