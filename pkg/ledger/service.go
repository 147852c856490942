package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	locker AccountLocker
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, locker: NewKeyedMutex()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance sums every entry of the scope's account.
func (service *Service) Balance(ctx context.Context, scope AccountScope) (Points, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	accountID, err := service.store.GetOrCreateAccountID(ctx, scope)
	if err != nil {
		return 0, err
	}
	return sumBalance(ctx, service.store, accountID)
}

// Credit appends a positive entry.
func (service *Service) Credit(ctx context.Context, scope AccountScope, amount Points, posting Posting) (PostingResult, error) {
	if amount <= 0 {
		return PostingResult{}, fmt.Errorf("%w: credit must be positive", ErrInvalidPoints)
	}
	return service.post(ctx, operationCredit, scope, amount.ToDelta(), posting)
}

// Debit appends a negative entry when the balance covers it. The balance is
// read and the entry appended under the account lock, so concurrent debits
// never both pass the sufficiency check.
func (service *Service) Debit(ctx context.Context, scope AccountScope, amount Points, posting Posting) (PostingResult, error) {
	if amount <= 0 {
		return PostingResult{}, fmt.Errorf("%w: debit must be positive", ErrInvalidPoints)
	}
	return service.post(ctx, operationDebit, scope, amount.ToDelta().Negated(), posting)
}

// Append records a signed entry. Negative deltas go through the same
// sufficiency check as Debit. A reused idempotency key yields
// ErrDuplicateOperation and leaves the ledger untouched.
func (service *Service) Append(ctx context.Context, scope AccountScope, delta Delta, posting Posting) (EntryID, error) {
	result, err := service.post(ctx, operationAppend, scope, delta, posting)
	if err != nil {
		return EntryID{}, err
	}
	return result.EntryID, nil
}

// FindByIdempotencyKey returns the entry previously committed under key.
func (service *Service) FindByIdempotencyKey(ctx context.Context, scope AccountScope, key IdempotencyKey) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	if key.IsZero() {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	accountID, err := service.store.GetOrCreateAccountID(ctx, scope)
	if err != nil {
		return Entry{}, err
	}
	return service.store.FindEntryByIdempotencyKey(ctx, accountID, key)
}

// ListEntries lists ledger entries for a scope before a cutoff time, newest first.
func (service *Service) ListEntries(ctx context.Context, scope AccountScope, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	accountID, err := service.store.GetOrCreateAccountID(ctx, scope)
	if err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, accountID, beforeUnixUTC, limit)
}

func (service *Service) post(ctx context.Context, operation string, scope AccountScope, delta Delta, posting Posting) (PostingResult, error) {
	var result PostingResult
	operationError := scope.Validate()
	if operationError == nil {
		operationError = service.locker.WithAccountLock(ctx, scope, func(ctx context.Context) error {
			return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
				accountID, err := transactionStore.GetOrCreateAccountID(ctx, scope)
				if err != nil {
					return err
				}
				if err := transactionStore.LockAccount(ctx, accountID); err != nil {
					return err
				}
				balance, err := sumBalance(ctx, transactionStore, accountID)
				if err != nil {
					return err
				}
				updated := balance.Int64() + delta.Int64()
				if updated < 0 {
					return &InsufficientFundsError{Scope: scope, Balance: balance, Required: Points(-delta.Int64())}
				}
				entryInput, err := NewEntryInput(accountID, delta, posting, service.nowFn())
				if err != nil {
					return err
				}
				entryID, err := transactionStore.InsertEntry(ctx, entryInput)
				if err != nil {
					return err
				}
				result = PostingResult{EntryID: entryID, Balance: Points(updated)}
				return nil
			})
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operation,
		Scope:          scope,
		Reason:         posting.Reason,
		Delta:          delta,
		Balance:        result.Balance,
		RequestID:      posting.RequestID,
		IdempotencyKey: posting.IdempotencyKey,
		Metadata:       posting.Metadata,
		Error:          operationError,
	})
	if operationError != nil {
		return PostingResult{}, operationError
	}
	return result, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = operationStatusOK
		case errors.Is(entry.Error, ErrDuplicateOperation):
			entry.Status = operationStatusDuplicate
		case errors.Is(entry.Error, ErrInsufficientFunds):
			entry.Status = operationStatusRejected
		default:
			entry.Status = operationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func sumBalance(ctx context.Context, store Store, accountID AccountID) (Points, error) {
	total, err := store.SumBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if total < 0 {
		return 0, WrapError("service", "balance", "negative_balance", ErrInvalidBalance)
	}
	return Points(total), nil
}
