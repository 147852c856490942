package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsCreditOperation(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), WithOperationLogger(logger))
	scope := personalScope(test)
	posting := grantPosting(test, "grant-1")

	if _, err := service.Credit(context.Background(), scope, mustPoints(test, 100), posting); err != nil {
		test.Fatalf("credit failed: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationCredit || entry.Scope != scope || entry.Delta != 100 || entry.Balance != 100 || entry.IdempotencyKey != posting.IdempotencyKey {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != StatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogStatuses(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name           string
		run            func(test *testing.T, service *Service) error
		configure      func(store *stubStore)
		expectedStatus string
	}{
		{
			name: "duplicate",
			run: func(test *testing.T, service *Service) error {
				posting := grantPosting(test, idempotencyValue)
				if _, err := service.Credit(context.Background(), personalScope(test), 5, posting); err != nil {
					return err
				}
				_, err := service.Credit(context.Background(), personalScope(test), 5, posting)
				return err
			},
			expectedStatus: StatusDuplicate,
		},
		{
			name: "rejected",
			run: func(test *testing.T, service *Service) error {
				_, err := service.Debit(context.Background(), personalScope(test), 5, drawPosting(test))
				return err
			},
			expectedStatus: StatusRejected,
		},
		{
			name: "error",
			run: func(test *testing.T, service *Service) error {
				_, err := service.Debit(context.Background(), personalScope(test), 5, drawPosting(test))
				return err
			},
			configure:      func(store *stubStore) { store.lockAccountError = errors.New("boom") },
			expectedStatus: StatusError,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			if testCase.configure != nil {
				testCase.configure(store)
			}
			logger := &recorderLogger{}
			service := mustNewService(test, store, WithOperationLogger(logger))
			if err := testCase.run(test, service); err == nil {
				test.Fatalf("expected error")
			}
			last := logger.entries[len(logger.entries)-1]
			if last.Status != testCase.expectedStatus || last.Error == nil {
				test.Fatalf("expected status %s, got %+v", testCase.expectedStatus, last)
			}
		})
	}
}
