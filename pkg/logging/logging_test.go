package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "warn", "json")
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("run_id", "r1").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "r1", line["run_id"])
	assert.Equal(t, "warn", line["level"])
}

func TestNewWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "", "console")
	require.NoError(t, err)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNewBadLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
}
