package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestInit_JSONToBuffer(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	require.NoError(t, Init(Settings{Level: "warn", Format: "auto"}, &buf))

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "shown", entry["message"])
	require.Equal(t, "test", entry["component"])
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestInit_ConsoleFormat(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	require.NoError(t, Init(Settings{Level: "debug", Format: "console"}, &buf))
	log.Debug().Msg("hello")
	require.Contains(t, buf.String(), "hello")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestInit_Invalid(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	require.Error(t, Init(Settings{Level: "loud"}, &buf))
	require.Error(t, Init(Settings{Format: "xml"}, &buf))
}
