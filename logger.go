package olcart

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger with the field names used by the tree.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithSession adds a session field to the logger.
func (l *Logger) WithSession(id uuid.UUID) *Logger {
	return &Logger{
		Logger: l.Logger.With("session", id),
	}
}

// WithPhase adds a phase field to the logger (used by workload drivers).
func (l *Logger) WithPhase(phase string) *Logger {
	return &Logger{
		Logger: l.Logger.With("phase", phase),
	}
}

// LogPhase logs the throughput of a finished workload phase. Use it on a
// logger returned by WithPhase.
func (l *Logger) LogPhase(ops int, elapsed time.Duration, err error) {
	if err != nil {
		l.Error("phase failed",
			"ops", ops,
			"error", err,
		)
		return
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	opsPerMs := 0.0
	if ms > 0 {
		opsPerMs = float64(ops) / ms
	}
	l.Info("phase completed",
		"ops", ops,
		"elapsed", elapsed,
		"ops_per_ms", opsPerMs,
	)
}
