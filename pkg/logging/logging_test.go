package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Configure(Options{Level: "warn", Out: &buf})
	require.NoError(t, err)
	defer closer()

	logger.Info().Msg("hidden")
	logger.Warn().Str("stage", "RT").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "RT", entry["stage"])
	assert.Contains(t, entry, "time")
}

func TestConfigureDevModeLowersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Configure(Options{Level: "info", DevMode: true, Out: &buf})
	require.NoError(t, err)
	defer closer()

	logger.Debug().Msg("debugging")
	assert.Contains(t, buf.String(), "debugging")
}

func TestConfigureInvalidLevel(t *testing.T) {
	_, _, err := Configure(Options{Level: "loud"})
	assert.ErrorContains(t, err, "loud")
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "job.log")
	var buf bytes.Buffer
	logger, closer, err := Configure(Options{File: path, Out: &buf})
	require.NoError(t, err)

	logger.Info().Msg("to both")
	require.NoError(t, closer())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "to both")
	assert.Contains(t, buf.String(), "to both")
}
