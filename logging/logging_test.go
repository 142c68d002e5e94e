package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info("hidden")
	log.WithField("item_id", 7).Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, float64(7), entry["item_id"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(Config{Level: "chatty", Format: "text", Output: &bytes.Buffer{}})

	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	_, ok := log.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestLogError_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})

	LogError(log, "api", "Handler.RecordTransaction", "decode body", map[string]int{"item_id": 3}, errors.New("unexpected EOF"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "unexpected EOF", entry["msg"])
	assert.Equal(t, "api", entry["module"])
	assert.Equal(t, "Handler.RecordTransaction", entry["funcName"])
	assert.Equal(t, "decode body", entry["context"])
	assert.NotNil(t, entry["data"])
}

func TestDiscard(t *testing.T) {
	log := Discard()

	assert.NotPanics(t, func() { log.Error("nothing") })
}
