package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pankajthekush/renderbridge/internal/config"
)

// resetGlobalLogger gives each test a clean singleton.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

func TestInitialize(t *testing.T) {
	t.Run("console format colorizes levels", func(t *testing.T) {
		resetGlobalLogger()
		var buf zapBuffer

		cfg := config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "TestService"}
		Initialize(cfg, &buf)

		GetLogger().Info("This is a test message.")

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.")
	})

	t.Run("json format emits structured entries", func(t *testing.T) {
		resetGlobalLogger()
		var buf zapBuffer

		cfg := config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}
		Initialize(cfg, &buf)

		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("writes to a rotated log file when configured", func(t *testing.T) {
		resetGlobalLogger()
		logPath := filepath.Join(t.TempDir(), "renderbridge-test.log")

		cfg := config.LoggerConfig{Level: "debug", Format: "json", LogFile: logPath, MaxSize: 1}
		Initialize(cfg, &zapBuffer{})

		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("initializes only once", func(t *testing.T) {
		resetGlobalLogger()
		var buf zapBuffer

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, &buf)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, &buf)
		second := GetLogger()

		assert.Same(t, first, second)
	})
}

func TestGetLoggerFallback(t *testing.T) {
	resetGlobalLogger()
	logger := GetLogger()
	require.NotNil(t, logger)
	// Uninitialized access must not panic and must not install a global.
	assert.Nil(t, globalLogger.Load())
}

// zapBuffer is a bytes.Buffer that satisfies zapcore.WriteSyncer.
type zapBuffer struct {
	bytes.Buffer
}

func (b *zapBuffer) Sync() error { return nil }
