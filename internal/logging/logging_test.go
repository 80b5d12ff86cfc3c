package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	require.NoError(t, setup(&buf, "warn", "json"))

	log.Info().Msg("dropped")
	log.Warn().Str("sale_id", "sale-1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "sale-1", entry["sale_id"])
	assert.Equal(t, "kept", entry["message"])
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, setup(&buf, "loud", "json"))
	assert.Error(t, setup(&buf, "info", "xml"))
}
