package cli

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// newLogger builds the process logger: human-readable console output by
// default, JSON lines with LOG_FORMAT=json. LOG_LEVEL defaults to info.
func newLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = w
	if !strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
