package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/asakaida/stepscope/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		level   zapcore.Level
		wantErr bool
	}{
		{"json info", config.LoggingConfig{Level: "info", Format: "json"}, zapcore.InfoLevel, false},
		{"console debug", config.LoggingConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel, false},
		{"warn", config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel, false},
		{"invalid level", config.LoggingConfig{Level: "loud", Format: "json"}, zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.level), "level %s should be enabled", tt.level)
			if tt.level > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.level-1), "level %s should be disabled", tt.level-1)
			}
		})
	}
}

func TestNewNop(t *testing.T) {
	assert.False(t, NewNop().Core().Enabled(zapcore.ErrorLevel))
}
