package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		lvl, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, lvl)
	}

	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	for _, format := range []string{"", "console", "json"} {
		logger, err := New("info", format)
		require.NoError(t, err, format)
		assert.NotNil(t, logger)
	}

	_, err := New("info", "xml")
	assert.Error(t, err)
	_, err = New("loud", "json")
	assert.Error(t, err)
}

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "info", "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("artifact written", zap.String("path", "inventory/pom.xml"))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "artifact written", entry["msg"])
	assert.Equal(t, "inventory/pom.xml", entry["path"])
	assert.Equal(t, "info", entry["level"])
}
