// Package logging builds the zap logger of gachad and adapts it to the
// ledger's operation log.
package logging

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsed)
	return config.Build()
}

// ZapOperationLogger writes ledger operations as structured log lines.
// Rejections and duplicates are audit events and go out at Info; store
// failures at Error; successful postings at Debug.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards everything.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("scope", entry.Scope.Key()),
		zap.String("reason", entry.Reason.String()),
		zap.Int64("delta", entry.Delta.Int64()),
		zap.String("status", entry.Status),
	}
	if !entry.RequestID.IsZero() {
		fields = append(fields, zap.String("request_id", entry.RequestID.String()))
	}
	if !entry.IdempotencyKey.IsZero() {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	switch entry.Status {
	case ledger.StatusOK:
		fields = append(fields, zap.Int64("balance", entry.Balance.Int64()))
		operationLogger.logger.Debug("ledger operation", fields...)
	case ledger.StatusDuplicate, ledger.StatusRejected:
		fields = append(fields, zap.String("detail", errorText(entry.Error)))
		operationLogger.logger.Info("ledger operation", fields...)
	default:
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Error("ledger operation", fields...)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
