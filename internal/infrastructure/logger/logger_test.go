package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestForEnvironment(t *testing.T) {
	prod := ForEnvironment("production")
	assert.Equal(t, "json", prod.Format)
	assert.Equal(t, "info", prod.Level)
	assert.Positive(t, prod.SampleInitial)

	dev := ForEnvironment("development")
	assert.Equal(t, "console", dev.Format)
	assert.Equal(t, "debug", dev.Level)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"fatal", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("respects the configured level", func(t *testing.T) {
		l, err := New(&Config{Level: "warn", Format: "json", Output: "stderr"}, "meter")
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("writes to a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meter.log")
		l, err := New(&Config{Level: "info", Format: "json", Output: path}, "meter")
		require.NoError(t, err)
		l.Info("hello")
		require.NoError(t, l.Sync())
		assert.FileExists(t, path)
	})

	t.Run("rejects an unwritable output", func(t *testing.T) {
		_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "meter.log")}, "meter")
		assert.Error(t, err)
	})

	t.Run("samples repeated lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meter.log")
		l, err := New(&Config{Level: "info", Format: "json", Output: path, SampleInitial: 2, SampleThereafter: 1000}, "")
		require.NoError(t, err)
		for range 10 {
			l.Info("usage denied")
		}
		require.NoError(t, l.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(string(data), "usage denied"))
	})
}
