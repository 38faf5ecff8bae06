// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and output. format is "console" (human
// readable, for terminals) or "json".
func Setup(level, format string, out io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if out == nil {
		out = os.Stderr
	}

	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		if i := strings.LastIndexByte(file, '/'); i >= 0 {
			file = file[i+1:]
		}
		return file + ":" + strconv.Itoa(line)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"}
	case "json":
	default:
		return fmt.Errorf("unknown log format %q (want console or json)", format)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Caller().Str("app", "face-auth").Logger()
	return nil
}

// ParseLevel accepts zerolog level names in any case; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}
