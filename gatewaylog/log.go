// Package gatewaylog centralizes structured logging for the gateway.
//
// Every component logs through a *zerolog.Logger obtained here instead of
// reaching for fmt.Printf or the stdlib log package, matching the logging
// style used across the rest of this domain's services.
package gatewaylog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
)

// SetOutput redirects the base logger, primarily for tests that want to
// capture or silence output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger()
}

// Named returns a child logger tagged with a "component" field, used so
// log lines from the session manager, WS manager, venue connector, flow
// supervisor and resource governor are trivially filterable.
func Named(component string) *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	l := base.With().Str("component", component).Logger()
	return &l
}

// Discard returns a logger that drops everything, used in tests that
// don't care about log output.
func Discard() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
