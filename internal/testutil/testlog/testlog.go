package testlog

import (
	"testing"

	"github.com/danmuck/nxwire/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("testlog.Start")
}
