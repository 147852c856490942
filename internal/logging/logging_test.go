package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mustScope(test *testing.T) ledger.AccountScope {
	test.Helper()
	userID, err := ledger.NewUserID("user-1")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return ledger.PersonalScope(userID)
}

func TestLogOperationLevels(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	operationLogger := NewZapOperationLogger(zap.New(core))
	scope := mustScope(test)
	key, err := ledger.NewIdempotencyKey("daily_login:2026-10-16")
	if err != nil {
		test.Fatalf("key: %v", err)
	}

	operationLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "credit", Scope: scope, Reason: ledger.ReasonDailyLogin, Delta: 3, Balance: 3, Status: ledger.StatusOK, IdempotencyKey: key})
	operationLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "credit", Scope: scope, Status: ledger.StatusDuplicate, Error: ledger.ErrDuplicateOperation, IdempotencyKey: key})
	operationLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "debit", Scope: scope, Delta: -100, Status: ledger.StatusRejected, Error: &ledger.InsufficientFundsError{Scope: scope, Balance: 3, Required: 100}})
	operationLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "debit", Scope: scope, Status: ledger.StatusError, Error: errors.New("db down")})

	entries := logs.AllUntimed()
	expected := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.InfoLevel, zapcore.ErrorLevel}
	if len(entries) != len(expected) {
		test.Fatalf("expected %d entries, got %d", len(expected), len(entries))
	}
	for index, level := range expected {
		if entries[index].Level != level {
			test.Fatalf("entry %d: expected %s, got %s", index, level, entries[index].Level)
		}
	}
	first := entries[0].ContextMap()
	if first["scope"] != "user:user-1" || first["balance"] != int64(3) || first["idempotency_key"] != "daily_login:2026-10-16" {
		test.Fatalf("unexpected fields %v", first)
	}
	if entries[0].LoggerName != "ledger" {
		test.Fatalf("unexpected logger name %q", entries[0].LoggerName)
	}
}

func TestNewLogger(test *testing.T) {
	test.Parallel()
	logger, err := NewLogger("warn")
	if err != nil {
		test.Fatalf("logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) || !logger.Core().Enabled(zapcore.WarnLevel) {
		test.Fatalf("unexpected level gating")
	}
	if _, err := NewLogger("chatty"); err == nil {
		test.Fatalf("expected invalid level error")
	}
}
