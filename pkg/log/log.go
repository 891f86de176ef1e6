package log

import (
	"io"
	"os"
	"time"

	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. It discards everything until Init.
var Logger = zerolog.Nop()

// Level is a configured verbosity
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // stderr when nil
}

// Init replaces the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	level, ok := levels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTaskID creates a child logger with task_id field
func WithTaskID(logger zerolog.Logger, taskID int64) zerolog.Logger {
	return logger.With().Int64("task_id", taskID).Logger()
}

// WithJobID creates a child logger with job_id field
func WithJobID(logger zerolog.Logger, jobID int64) zerolog.Logger {
	return logger.With().Int64("job_id", jobID).Logger()
}

// WithObject tags a child logger with the entity an operation works on
func WithObject(logger zerolog.Logger, ref types.ObjectRef) zerolog.Logger {
	return logger.With().Str("object_type", string(ref.Type)).Int64("object_id", ref.ID).Logger()
}
