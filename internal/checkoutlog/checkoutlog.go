// Package checkoutlog adapts checkout transition callbacks to zap and fans them out to several sinks.
package checkoutlog

import (
	"context"

	"go.uber.org/zap"

	"github.com/leotyps/jkt48connect/pkg/checkout"
)

// ZapLogger writes one structured line per transition.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger; nil falls back to a no-op logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("checkout")}
}

// LogTransition implements checkout.TransitionLogger.
func (zapLogger *ZapLogger) LogTransition(_ context.Context, entry checkout.TransitionLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("session_id", entry.SessionID),
		zap.String("kind", entry.Kind.String()),
		zap.String("from", entry.From.String()),
		zap.String("to", entry.To.String()),
		zap.Int64("total", entry.Total.Int64()),
	}
	if entry.Failure != nil {
		fields = append(fields,
			zap.String("failure_kind", string(entry.Failure.Kind)),
			zap.String("failure_message", entry.Failure.Message),
		)
	}
	switch {
	case entry.Error != nil:
		zapLogger.logger.Warn("checkout transition", append(fields, zap.Error(entry.Error))...)
	case entry.To == checkout.StatusFailed:
		zapLogger.logger.Warn("checkout transition", fields...)
	default:
		zapLogger.logger.Info("checkout transition", fields...)
	}
}

// Fanout forwards each transition to every wrapped logger in order.
type Fanout []checkout.TransitionLogger

// NewFanout drops nil loggers.
func NewFanout(loggers ...checkout.TransitionLogger) Fanout {
	fanout := make(Fanout, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			fanout = append(fanout, logger)
		}
	}
	return fanout
}

// LogTransition implements checkout.TransitionLogger.
func (fanout Fanout) LogTransition(ctx context.Context, entry checkout.TransitionLog) {
	for _, logger := range fanout {
		logger.LogTransition(ctx, entry)
	}
}
