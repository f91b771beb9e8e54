package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input    string
		expected Level
		ok       bool
	}{
		{"trace", Trace, true},
		{"DEBUG", Debug, true},
		{" info ", Info, true},
		{"Warn", Warn, true},
		{"error", Error, true},
		{"verbose", Error, false},
		{"", Error, false},
	}

	for _, tc := range cases {
		level, ok := ParseLevel(tc.input)
		assert.Equal(t, tc.expected, level, "input=%q", tc.input)
		assert.Equal(t, tc.ok, ok, "input=%q", tc.input)
	}
}

func TestLevelEnables(t *testing.T) {
	assert.True(t, Trace.Enables(Trace))
	assert.True(t, Trace.Enables(Error))
	assert.True(t, Debug.Enables(Info))
	assert.False(t, Debug.Enables(Trace))
	assert.False(t, Error.Enables(Warn))
	assert.Equal(t, "Level(9)", Level(9).String())
}

func TestWriterLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(Info, &buf)

	logger.Trace("reactor: dropped: n=%d", 1)
	logger.Debug("reactor: dropped: n=%d", 2)
	logger.Info("reactor: kept: n=%d", 3)
	logger.Error("reactor: kept: n=%d", 4)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "info", record["level"])
	assert.Equal(t, "reactor: kept: n=3", record["message"])
	assert.Equal(t, Info, logger.Level())
}

func TestWriterLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(Trace, &buf)

	logger.Trace("trace: payload")

	assert.Contains(t, buf.String(), `"level":"trace"`)
	assert.Contains(t, buf.String(), "trace: payload")
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()

	logger.Error("discarded")

	assert.False(t, logger.Level().Enables(Trace))
}
