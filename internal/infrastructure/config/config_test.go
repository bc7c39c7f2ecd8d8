package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/entities"
)

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard configuration",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "testuser",
				Password: "testpass",
				Database: "testdb",
				SSLMode:  "disable",
			},
			want: "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable",
		},
		{
			name: "production configuration",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "produser",
				Password: "securepass123",
				Database: "proddb",
				SSLMode:  "require",
			},
			want: "host=db.example.com port=5433 user=produser password=securepass123 dbname=proddb sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ConnectionString())
		})
	}
}

func TestDatabaseConfig_MigrationURL(t *testing.T) {
	cfg := DatabaseConfig{Host: "localhost", Port: 15432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@localhost:15432/d?sslmode=disable", cfg.MigrationURL())
}

func TestInitConfig(t *testing.T) {
	tests := []struct {
		name string
		env  string
	}{
		{name: "default dev environment", env: ""},
		{name: "test environment", env: "test"},
		{name: "prod environment", env: "prod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()

			require.NoError(t, InitConfig(tt.env))

			assert.Equal(t, 50051, viper.GetInt("SERVER_PORT"))
			assert.Equal(t, "stepscope", viper.GetString("DB_USER"))
			assert.Equal(t, "edge,face,solid,vertex", viper.GetString("EXTRACT_KIND_ORDER"))
			assert.True(t, viper.GetBool("PARSE_AUDIT_REFERENCES"), "reference audit defaults to on")
		})
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func()
		wantErr     bool
		wantErrMsg  string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name:     "defaults without database",
			setupEnv: func() {},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.False(t, cfg.Database.Enabled)
				assert.Equal(t, 1, cfg.Extract.IndexBase)
				assert.True(t, cfg.Extract.Parallel)
				assert.True(t, cfg.Extract.IncludeEntities)
				assert.Zero(t, cfg.Extract.ElementTimeout)
				require.GreaterOrEqual(t, len(cfg.Extract.KindOrder), len(entities.DefaultKindOrder))
				for i, kind := range entities.DefaultKindOrder {
					assert.Equal(t, kind, cfg.Extract.KindOrder[i], "KindOrder[%d]", i)
				}
				assert.False(t, cfg.ObjectStore.Enabled)
				assert.Equal(t, "us-east-1", cfg.ObjectStore.Region)
				assert.True(t, cfg.ObjectStore.UseSSL)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
		{
			name: "database enabled with password",
			setupEnv: func() {
				viper.Set("DB_ENABLED", true)
				viper.Set("DB_PASSWORD", "testpassword")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "testpassword", cfg.Database.Password)
				assert.Equal(t, 15432, cfg.Database.Port)
			},
		},
		{
			name: "database enabled without password",
			setupEnv: func() {
				viper.Set("DB_ENABLED", true)
			},
			wantErr:    true,
			wantErrMsg: "DB_PASSWORD is required when DB_ENABLED is set (set via environment variable or .env file)",
		},
		{
			name: "custom extraction",
			setupEnv: func() {
				viper.Set("EXTRACT_KIND_ORDER", "face,vertex")
				viper.Set("EXTRACT_INDEX_BASE", 0)
				viper.Set("EXTRACT_ELEMENT_TIMEOUT_MS", 250)
				viper.Set("EXTRACT_PARALLEL", false)
				viper.Set("PARSE_STRICT", true)
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Extract.KindOrder, 2)
				assert.Equal(t, entities.ShapeFace, cfg.Extract.KindOrder[0])
				assert.Equal(t, 0, cfg.Extract.IndexBase)
				assert.Equal(t, 250*time.Millisecond, cfg.Extract.ElementTimeout)
				assert.False(t, cfg.Extract.Parallel)
				assert.True(t, cfg.Parse.Strict)
			},
		},
		{
			name: "invalid kind order",
			setupEnv: func() {
				viper.Set("EXTRACT_KIND_ORDER", "face,shell")
			},
			wantErr:    true,
			wantErrMsg: "invalid EXTRACT_KIND_ORDER",
		},
		{
			name: "invalid index base",
			setupEnv: func() {
				viper.Set("EXTRACT_INDEX_BASE", 2)
			},
			wantErr:    true,
			wantErrMsg: "EXTRACT_INDEX_BASE must be 0 or 1, got 2",
		},
		{
			name: "object store with partial credentials",
			setupEnv: func() {
				viper.Set("S3_ENABLED", true)
				viper.Set("S3_ACCESS_KEY_ID", "minio")
			},
			wantErr:    true,
			wantErrMsg: "S3_SECRET_ACCESS_KEY is required when S3_ACCESS_KEY_ID is set",
		},
		{
			name: "object store with endpoint",
			setupEnv: func() {
				viper.Set("S3_ENABLED", true)
				viper.Set("S3_ENDPOINT", "localhost:9000")
				viper.Set("S3_USE_SSL", false)
				viper.Set("S3_ACCESS_KEY_ID", "minio")
				viper.Set("S3_SECRET_ACCESS_KEY", "minio123")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.ObjectStore.Enabled)
				assert.Equal(t, "localhost:9000", cfg.ObjectStore.Endpoint)
				assert.False(t, cfg.ObjectStore.UseSSL)
				assert.Equal(t, int64(512*1024*1024), cfg.ObjectStore.MaxObjectBytes)
			},
		},
		{
			name: "invalid log format",
			setupEnv: func() {
				viper.Set("LOG_FORMAT", "xml")
			},
			wantErr:    true,
			wantErrMsg: "LOG_FORMAT must be json or console",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			SetDefaults()
			tt.setupEnv()

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, strings.HasPrefix(err.Error(), tt.wantErrMsg), "error %q, want prefix %q", err, tt.wantErrMsg)
				return
			}
			require.NoError(t, err)

			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestFindProjectRoot(t *testing.T) {
	// This test assumes we're running from within the project
	root, err := findProjectRoot()
	require.NoError(t, err)

	// Verify go.mod exists in the returned root
	assert.FileExists(t, root+"/go.mod")
}
