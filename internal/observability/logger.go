package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns the process logger scoped to one component.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// WithApp tags every line from logger with the application name.
func WithApp(logger zerolog.Logger, app string) zerolog.Logger {
	return logger.With().Str("app", app).Logger()
}
