// Package logger configures the process-wide structured logger (spec's
// AMBIENT STACK): zerolog, the same library the teacher reaches for
// throughout its executor and config packages via the global zerolog/log
// helpers. This package additionally owns level parsing and the
// dev-terminal console writer, since the teacher's own usage never needed
// a constructor of its own.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Setup creates the process-wide logger at the given level. When stdout is
// a terminal it writes zerolog's human-readable console format (colorized
// via go-colorable); otherwise it writes newline-delimited JSON, fit for
// container log collection.
func Setup(level string) *zerolog.Logger {
	var writer io.Writer = os.Stdout
	if isatty.IsTerminal(os.Stdout.Fd()) {
		writer = zerolog.ConsoleWriter{Out: colorable.NewColorableStdout(), TimeFormat: "15:04:05"}
	}

	l := zerolog.New(writer).Level(parseLevel(level)).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &l
	return &l
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
