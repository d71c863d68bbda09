package settings

import (
	"context"
	"log/slog"
	"time"
)

// OperationLogEvent describes one Settings operation for logging.
type OperationLogEvent struct {
	Op         string
	Key        string
	StorageKey string
	Scoped     bool
	Cached     bool
	Encrypted  bool
	Duration   time.Duration
	Err        error
}

// OperationLogger records operation events.
type OperationLogger interface {
	LogOperation(OperationLogEvent)
}

// OperationLoggerFunc adapts a function to OperationLogger.
type OperationLoggerFunc func(OperationLogEvent)

// LogOperation implements OperationLogger.
func (f OperationLoggerFunc) LogOperation(event OperationLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopOperationLogger struct{}

func (noopOperationLogger) LogOperation(OperationLogEvent) {}

// SlogLogger adapts a slog.Logger. Successful operations log at debug level,
// failed ones at warn.
func SlogLogger(logger *slog.Logger) OperationLogger {
	if logger == nil {
		return noopOperationLogger{}
	}
	return OperationLoggerFunc(func(event OperationLogEvent) {
		attrs := []slog.Attr{
			slog.String("op", event.Op),
			slog.String("key", event.Key),
			slog.String("storage_key", event.StorageKey),
			slog.Bool("scoped", event.Scoped),
			slog.Bool("cached", event.Cached),
			slog.Bool("encrypted", event.Encrypted),
			slog.Duration("duration", event.Duration),
		}
		if event.Err != nil {
			attrs = append(attrs, slog.String("error", event.Err.Error()))
			logger.LogAttrs(context.Background(), slog.LevelWarn, "settings operation failed", attrs...)
			return
		}
		logger.LogAttrs(context.Background(), slog.LevelDebug, "settings operation", attrs...)
	})
}
