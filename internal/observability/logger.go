package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/logging"
)

// InitLogger configures the runtime profile and tags the global logger
// with the application name.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
