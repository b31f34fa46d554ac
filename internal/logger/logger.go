// Package logger builds the zerolog loggers used by the command line.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

type settings struct {
	out     io.Writer
	level   Level
	console bool
}

type Option func(*settings)

// WithOutput sets where records are written. The default is stderr.
func WithOutput(out io.Writer) Option {
	return func(s *settings) { s.out = out }
}

func WithLevel(level Level) Option {
	return func(s *settings) { s.level = level }
}

// WithConsole renders human readable lines instead of JSON.
func WithConsole() Option {
	return func(s *settings) { s.console = true }
}

func New(opts ...Option) zerolog.Logger {
	s := settings{out: os.Stderr, level: InfoLevel}
	for _, o := range opts {
		o(&s)
	}
	out := s.out
	if s.console {
		out = zerolog.ConsoleWriter{
			Out:        s.out,
			TimeFormat: time.DateTime,
			NoColor:    true,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
			},
		}
	}
	return zerolog.New(out).Level(s.level).With().Timestamp().Logger()
}

// ParseLevel accepts zerolog level names; an empty name is info.
func ParseLevel(name string) (Level, error) {
	if name == "" {
		return InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(name))
}

// FromConfig builds a logger from a level name and a format, json or console.
func FromConfig(level, format string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	opts := []Option{WithOutput(out), WithLevel(lvl)}
	switch format {
	case "", "json":
	case "console":
		opts = append(opts, WithConsole())
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return New(opts...), nil
}
