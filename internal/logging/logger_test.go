package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("record", &buf, WARN)

	l.Info("не должно попасть")
	l.Warn("буфер %d", 42)
	l.Error("ошибка")

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [record] буфер 42")
	assert.Contains(t, out, "[ERROR] [record] ошибка")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("что-то"))
}

func TestNilLoggerFallsBack(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Debug("ничего") })
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))

	big := bytes.Repeat([]byte{0xAB}, 1000)
	dump := HexDump(big)
	assert.Equal(t, 16, strings.Count(dump, "\n"))
}

func TestManagerReturnsSameLogger(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	a, err := lm.GetLogger("replay")
	require.NoError(t, err)
	b, err := lm.GetLogger("replay")
	require.NoError(t, err)
	assert.Same(t, a, b)

	require.NoError(t, lm.SetLogLevel("replay", ERROR, ERROR))
	assert.Error(t, lm.SetLogLevel("missing", ERROR, ERROR))
	assert.Equal(t, []string{"replay"}, lm.ListComponents())
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}
