package server

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger for the whole process; the
// CLI calls it once before any command runs. Logs go to stderr through
// a human-readable console writer unless SLUICE_ENV=prod, which keeps
// zerolog's default JSON output for log shippers.
func Init(level zerolog.Level) {
	if os.Getenv("SLUICE_ENV") != "prod" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
	zerolog.SetGlobalLevel(level)
}
