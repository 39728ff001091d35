package testlog

import (
	"testing"

	"github.com/danmuck/telemlink/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("testlog.Start")
}

// Logf records a narrated test step at debug level.
func Logf(format string, args ...any) {
	log.Debug().Msgf(format, args...)
}
