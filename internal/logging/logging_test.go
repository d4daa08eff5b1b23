package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-oidc-gate/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	previous := log.Logger
	t.Cleanup(func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	t.Run("json output at requested level", func(t *testing.T) {
		var buf bytes.Buffer
		logging.Setup("warn", "json", &buf)

		log.Info().Msg("hidden")
		log.Warn().Str("k", "v").Msg("shown")

		var line map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
		require.Equal(t, "shown", line["message"])
		require.Equal(t, "warn", line["level"])
		require.Equal(t, "v", line["k"])
		require.Contains(t, line, "time")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logging.Setup("shouting", "json", &buf)

		require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
		log.Debug().Msg("hidden")
		require.Empty(t, buf.String())
	})

	t.Run("console output is not json", func(t *testing.T) {
		var buf bytes.Buffer
		logging.Setup("info", "console", &buf)

		log.Info().Msg("hello console")
		require.Contains(t, buf.String(), "hello console")
		require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
	})
}
