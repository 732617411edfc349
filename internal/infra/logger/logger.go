// Package logger sets up the global zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Config represents logger configuration.
type Config struct {
	Output string // "stdout", "stderr", or a file path
	Level  string // "trace", "debug", "info", "warn", "error"
}

func (c Config) console() (io.Writer, bool) {
	switch strings.ToLower(c.Output) {
	case "stdout", "":
		return os.Stdout, true
	case "stderr":
		return os.Stderr, true
	}
	return nil, false
}

// Init initializes the global logger. Console outputs get a human readable
// format, files get JSON lines. The returned function closes the log file,
// if any.
func Init(cfg Config) (func() error, error) {
	level := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.CallerMarshalFunc = shortCaller

	verbose := level <= zerolog.DebugLevel
	closer := func() error { return nil }

	var logger zerolog.Logger
	if w, ok := cfg.console(); ok {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
		if verbose {
			cw.PartsOrder = []string{"time", "level", "message", "caller"}
			cw.FormatCaller = func(i any) string {
				s, _ := i.(string)
				return "(" + s + ")"
			}
		}
		logger = build(zerolog.New(cw), verbose)
	} else {
		if dir := filepath.Dir(cfg.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create log directory")
			}
		}
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open log file")
		}
		closer = f.Close
		logger = build(zerolog.New(f), verbose)
	}

	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger
	return closer, nil
}

func build(l zerolog.Logger, withCaller bool) zerolog.Logger {
	ctx := l.With().Timestamp()
	if withCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// shortCaller keeps the last directory and file name.
func shortCaller(_ uintptr, file string, line int) string {
	dir, name := filepath.Split(file)
	if parent := filepath.Base(filepath.Clean(dir)); dir != "" && parent != "." && parent != string(filepath.Separator) {
		name = parent + "/" + name
	}
	return name + ":" + strconv.Itoa(line)
}

// ParseLevel parses a level name. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
