package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start routes the global logger through the test log and raises the level
// to debug for the duration of one test.
func Start(t *testing.T) {
	t.Helper()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = zerolog.New(zerolog.NewTestWriter(t))
	log.Debug().Str("test", t.Name()).Msg("logging configured")
}
