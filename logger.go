package daemon

import "go.uber.org/zap"

// Logger defines the interface for orchestrator logging.
// Messages carry structured context as alternating key-value pairs:
//
//	logger.Info("Module started", "module", "scheduler", "order", 1)
//
// The shape matches slog, zap's SugaredLogger *w methods and most other
// structured logging libraries, so hosts can plug in their own.
type Logger interface {
	// Info logs normal lifecycle progress such as a module being started.
	Info(msg string, args ...any)

	// Error logs a failure that was isolated to one module.
	Error(msg string, args ...any)

	// Warn logs a configuration problem that processing continues past,
	// e.g. an unresolved optional requirement.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics such as computed edges and orders.
	Debug(msg string, args ...any)
}

// ZapLogger adapts a zap logger to Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil l yields a no-op logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Named returns a child logger whose entries carry the given name.
func (l *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.Named(name)}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
