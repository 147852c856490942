package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
)

const (
	userIDValue      = "user-1"
	circleIDValue    = "circle-1"
	idempotencyValue = "idem-1"
	metadataValue    = "{\"source\":\"test\"}"
)

type stubStore struct {
	mu                 sync.Mutex
	accounts           map[string]AccountID
	entries            map[AccountID][]Entry
	nextEntry          int
	getAccountError    error
	lockAccountError   error
	sumBalanceError    error
	insertEntryError   error
	listEntriesError   error
	findEntryError     error
	sumBalanceOverride *int64
	lockedAccounts     []AccountID
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: make(map[string]AccountID),
		entries:  make(map[AccountID][]Entry),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccountID(ctx context.Context, scope AccountScope) (AccountID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.getAccountError != nil {
		return AccountID{}, store.getAccountError
	}
	accountID, exists := store.accounts[scope.Key()]
	if !exists {
		accountID = AccountID{value: fmt.Sprintf("acct-%d", len(store.accounts)+1)}
		store.accounts[scope.Key()] = accountID
	}
	return accountID, nil
}

func (store *stubStore) LockAccount(ctx context.Context, accountID AccountID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.lockAccountError != nil {
		return store.lockAccountError
	}
	store.lockedAccounts = append(store.lockedAccounts, accountID)
	return nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entryInput EntryInput) (EntryID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.insertEntryError != nil {
		return EntryID{}, store.insertEntryError
	}
	if !entryInput.IdempotencyKey().IsZero() {
		for _, existing := range store.entries[entryInput.AccountID()] {
			if existing.IdempotencyKey() == entryInput.IdempotencyKey() {
				return EntryID{}, WrapError("store", "entry", "duplicate", ErrDuplicateOperation)
			}
		}
	}
	store.nextEntry++
	entryID := EntryID{value: fmt.Sprintf("entry-%d", store.nextEntry)}
	entry := Entry{entryID: entryID, EntryInput: entryInput}
	store.entries[entryInput.AccountID()] = append(store.entries[entryInput.AccountID()], entry)
	return entryID, nil
}

func (store *stubStore) SumBalance(ctx context.Context, accountID AccountID) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.sumBalanceError != nil {
		return 0, store.sumBalanceError
	}
	if store.sumBalanceOverride != nil {
		return *store.sumBalanceOverride, nil
	}
	var total int64
	for _, entry := range store.entries[accountID] {
		total += entry.Delta().Int64()
	}
	return total, nil
}

func (store *stubStore) FindEntryByIdempotencyKey(ctx context.Context, accountID AccountID, key IdempotencyKey) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.findEntryError != nil {
		return Entry{}, store.findEntryError
	}
	for _, entry := range store.entries[accountID] {
		if entry.IdempotencyKey() == key {
			return entry, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (store *stubStore) ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	matched := make([]Entry, 0, len(store.entries[accountID]))
	for _, entry := range store.entries[accountID] {
		if entry.CreatedUnixUTC() < beforeUnixUTC {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC() > matched[right].CreatedUnixUTC()
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) entryCount(scope AccountScope) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.entries[store.accounts[scope.Key()]])
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 100 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustCircleID(test *testing.T, raw string) CircleID {
	test.Helper()
	value, err := NewCircleID(raw)
	if err != nil {
		test.Fatalf("circle id: %v", err)
	}
	return value
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	value, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

func mustPoints(test *testing.T, raw int64) Points {
	test.Helper()
	value, err := NewPoints(raw)
	if err != nil {
		test.Fatalf("points: %v", err)
	}
	return value
}

func personalScope(test *testing.T) AccountScope {
	test.Helper()
	return PersonalScope(mustUserID(test, userIDValue))
}

func circleScope(test *testing.T) AccountScope {
	test.Helper()
	return CircleScope(mustCircleID(test, circleIDValue), mustUserID(test, userIDValue))
}

func grantPosting(test *testing.T, key string) Posting {
	test.Helper()
	posting := Posting{Reason: ReasonAdminGrant, Metadata: mustMetadata(test, metadataValue)}
	if key != "" {
		posting.IdempotencyKey = mustIdempotencyKey(test, key)
	}
	return posting
}

func drawPosting(test *testing.T) Posting {
	test.Helper()
	return Posting{Reason: ReasonGachaPullCost, Metadata: mustMetadata(test, metadataValue)}
}
