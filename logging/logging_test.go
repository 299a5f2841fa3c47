package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn")
	l.Info("dropped")
	l.Warn("kept", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	WithRunID(newLogger(&buf, "info"), "run-1").Info("x")
	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "****", SanitizeToken("short"))
	assert.Equal(t, "abcd...wxyz", SanitizeToken("abcdefghijklmnopqrstuvwxyz"))
}

func TestShortURL(t *testing.T) {
	long := strings.Repeat("a", 80)
	assert.Equal(t, strings.Repeat("a", 60)+"...", ShortURL(long))
	assert.Equal(t, "http://x", ShortURL("http://x"))
}
