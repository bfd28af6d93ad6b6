// Package log provides the structured logging interface used across housestack.
//
// The Logger interface is slog-compatible so that call sites stay independent of
// the backend; the production backend is zerolog (see ZerologProvider). ML specific
// attribute keys live in attributes.go.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("ensemble.stacking")
//	logger.Info("Training started",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, 1000,
//	    log.FeaturesKey, 5,
//	)
package log

import (
	"context"
)

// Logger is a structured logger with key/value fields.
//
// If the first field passed to Error (or any level) is an error value, it is
// recorded under the "error" key together with its stack summary.
type Logger interface {
	// Debug logs detailed diagnostic information.
	Debug(msg string, fields ...any)

	// Info logs general operational information.
	Info(msg string, fields ...any)

	// Warn logs conditions that do not stop execution.
	Warn(msg string, fields ...any)

	// Error logs error conditions.
	//
	// Example:
	//   logger.Error("Model training failed",
	//       err,
	//       log.OperationKey, "fit",
	//   )
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every subsequent message.
	With(fields ...any) Logger

	// Enabled reports whether a record at level would be emitted.
	Enabled(ctx context.Context, level Level) bool
}

// Level is a logging level whose values match slog.Level.
type Level int

const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers sharing one backend and level.
type LoggerProvider interface {
	// GetLogger returns the root logger.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum level for loggers created afterwards.
	SetLevel(level Level)
}
