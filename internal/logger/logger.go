// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides leveled logging.
type Logger struct {
	level Level
	zl    zerolog.Logger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
// Format "json" emits one JSON object per line; "text" emits console output.
func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit output, used by tests.
func InitWithWriter(level string, format string, out io.Writer) {
	var l Level
	var zlLevel zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		l, zlLevel = DebugLevel, zerolog.DebugLevel
	case "info":
		l, zlLevel = InfoLevel, zerolog.InfoLevel
	case "warn":
		l, zlLevel = WarnLevel, zerolog.WarnLevel
	case "error":
		l, zlLevel = ErrorLevel, zerolog.ErrorLevel
	default:
		l, zlLevel = InfoLevel, zerolog.InfoLevel
	}

	w := out
	if strings.ToLower(format) == "text" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000", NoColor: true}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	defaultLogger = &Logger{
		level: l,
		zl:    zerolog.New(w).Level(zlLevel).With().Timestamp().Logger(),
	}
}

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= DebugLevel {
		defaultLogger.zl.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= InfoLevel {
		defaultLogger.zl.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= WarnLevel {
		defaultLogger.zl.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= ErrorLevel {
		defaultLogger.zl.Error().Msg(fmt.Sprintf(format, args...))
	}
}

// Fatal logs regardless of level and exits the process.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if defaultLogger != nil {
		defaultLogger.zl.WithLevel(zerolog.FatalLevel).Msg(msg)
	} else {
		fmt.Fprintln(os.Stderr, "[FATAL] "+msg)
	}
	os.Exit(1)
}
