package postgres

import (
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/infrastructure/config"
	"github.com/asakaida/stepscope/internal/infrastructure/database"
)

// SetupTestDB creates a test database connection and runs migrations.
// The test is skipped unless DB_PASSWORD is configured.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Initialize test config
	require.NoError(t, config.InitConfig("test"), "init config")
	if viper.GetString("DB_PASSWORD") == "" {
		t.Skip("Integration test - requires running database (set DB_PASSWORD)")
	}
	viper.Set("DB_ENABLED", true)

	cfg, err := config.Load()
	require.NoError(t, err, "load config")

	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("Database unavailable: %v", err)
	}

	// Run migrations
	require.NoError(t, pg.RunMigrations(), "run migrations")

	return pg.DB
}

// CleanupTestDB closes the database connection and cleans up test data
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()

	// Records and errors cascade from runs
	if _, err := db.Exec("DELETE FROM runs"); err != nil {
		t.Logf("Warning: Failed to clean up runs: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Logf("Warning: Failed to close database: %v", err)
	}
}
