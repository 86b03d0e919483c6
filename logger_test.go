package deploykit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextLogger(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{level: "debug", wantDebug: true, wantInfo: true, wantWarn: true},
		{level: "info", wantInfo: true, wantWarn: true},
		{level: "WARNING", wantWarn: true},
		{level: "error"},
		{level: "unknown", wantInfo: true, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewTextLogger(&buf, tt.level)
			logger.Debug("debug line")
			logger.Info("info line")
			logger.Warn("warn line")
			logger.Error("error line", "key", "value")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug line")))
			assert.Equal(t, tt.wantInfo, bytes.Contains(buf.Bytes(), []byte("info line")))
			assert.Equal(t, tt.wantWarn, bytes.Contains(buf.Bytes(), []byte("warn line")))
			assert.Contains(t, out, "key=value")
		})
	}
}

func TestWithLoggerValues(t *testing.T) {
	inner := &captureLogger{}
	logger := WithLoggerValues(inner, "entity", "db")

	logger.Info("no args")
	logger.Warn("with args", "state", "running")

	assert.Equal(t, []any{"entity", "db"}, inner.entries[0].args)
	assert.Equal(t, []any{"entity", "db", "state", "running"}, inner.entries[1].args)

	WithLoggerValues(nil, "k", "v").Error("dropped")
	WithLoggerValues(inner).Debug("passthrough", "a", 1)
	assert.Equal(t, []any{"a", 1}, inner.entries[2].args)
}
