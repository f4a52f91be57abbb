package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"barid/backend/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("JSON输出包含组件名", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.LogConfig{Level: "info"}, zapcore.AddSync(&buf))

		log.Named("sweeper").Info("sweep completed", zap.Int("deleted", 3))
		require.NoError(t, log.Sync())

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "sweep completed", entry["message"])
		assert.Equal(t, "sweeper", entry["component"])
		assert.Equal(t, float64(3), entry["deleted"])
	})

	t.Run("低于级别的日志被过滤", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.LogConfig{Level: "warn"}, zapcore.AddSync(&buf))

		log.Info("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("无效级别回退到info", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.LogConfig{Level: "loud"}, zapcore.AddSync(&buf))

		log.Debug("hidden")
		log.Info("shown")
		assert.Contains(t, buf.String(), "shown")
		assert.NotContains(t, buf.String(), "hidden")
	})
}

func TestNewWithFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "logger-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "nested", "barid.log")
	log, err := New(config.LogConfig{Level: "info", File: path, MaxSize: 1})
	require.NoError(t, err)

	log.Info("message stored")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "message stored")
}
