// Package memstore keeps the ledger, unlocks, and circle memberships in
// process memory. It backs the "memory://" database URL and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/google/uuid"
)

const (
	errorOperationStore = "store"
	errorSubjectEntry   = "entry"
	errorCodeDuplicate  = "duplicate"
	errorCodeGet        = "get"
)

type state struct {
	mu       sync.RWMutex
	accounts map[accountKey]ledger.AccountID
	entries  map[ledger.AccountID][]ledger.Entry
	unlocks  map[ledger.AccountID][]inventory.Unlock
	members  map[string]struct{}
}

// Store implements ledger.Store and inventory.Store.
type Store struct {
	state *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: &state{
		accounts: make(map[accountKey]ledger.AccountID),
		entries:  make(map[ledger.AccountID][]ledger.Entry),
		unlocks:  make(map[ledger.AccountID][]inventory.Unlock),
		members:  make(map[string]struct{}),
	}}
}

// WithTx buffers inserted entries and publishes them only when fn succeeds.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	transaction := &txStore{Store: store}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	return transaction.commit()
}

func (store *Store) GetOrCreateAccountID(_ context.Context, scope ledger.AccountScope) (ledger.AccountID, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	key := keyOf(scope)
	if accountID, exists := store.state.accounts[key]; exists {
		return accountID, nil
	}
	accountID, err := ledger.NewAccountID(uuid.NewString())
	if err != nil {
		return ledger.AccountID{}, err
	}
	store.state.accounts[key] = accountID
	return accountID, nil
}

// LockAccount is a no-op; the service's in-process account lock already
// serializes writers of a single Store.
func (store *Store) LockAccount(context.Context, ledger.AccountID) error {
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (ledger.EntryID, error) {
	var entryID ledger.EntryID
	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		var insertErr error
		entryID, insertErr = txStore.InsertEntry(ctx, entryInput)
		return insertErr
	})
	return entryID, err
}

func (store *Store) SumBalance(_ context.Context, accountID ledger.AccountID) (int64, error) {
	store.state.mu.RLock()
	defer store.state.mu.RUnlock()
	return sumEntries(store.state.entries[accountID]), nil
}

func (store *Store) FindEntryByIdempotencyKey(_ context.Context, accountID ledger.AccountID, key ledger.IdempotencyKey) (ledger.Entry, error) {
	store.state.mu.RLock()
	defer store.state.mu.RUnlock()
	if entry, found := findByKey(store.state.entries[accountID], key); found {
		return entry, nil
	}
	return ledger.Entry{}, ledger.WrapError(errorOperationStore, errorSubjectEntry, errorCodeGet, ledger.ErrEntryNotFound)
}

func (store *Store) ListEntries(_ context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	store.state.mu.RLock()
	defer store.state.mu.RUnlock()
	matched := make([]ledger.Entry, 0)
	for _, entry := range store.state.entries[accountID] {
		if entry.CreatedUnixUTC() < beforeUnixUTC {
			matched = append(matched, entry)
		}
	}
	// entries are kept in commit order; newest first
	for left, right := 0, len(matched)-1; left < right; left, right = left+1, right-1 {
		matched[left], matched[right] = matched[right], matched[left]
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC() > matched[right].CreatedUnixUTC()
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *Store) GetOrCreateUnlock(_ context.Context, input inventory.UnlockInput) (inventory.Unlock, bool, error) {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	for _, existing := range store.state.unlocks[input.AccountID] {
		if existing.Item == input.Item {
			return existing, false, nil
		}
	}
	acquiredAt := input.AcquiredAtUnix
	if acquiredAt == 0 {
		acquiredAt = time.Now().UTC().Unix()
	}
	unlock := inventory.Unlock{
		UnlockID:       uuid.NewString(),
		AccountID:      input.AccountID,
		Item:           input.Item,
		Rarity:         input.Rarity,
		Source:         input.Source,
		AcquiredAtUnix: acquiredAt,
	}
	store.state.unlocks[input.AccountID] = append(store.state.unlocks[input.AccountID], unlock)
	return unlock, true, nil
}

func (store *Store) ListUnlocks(_ context.Context, accountID ledger.AccountID) ([]inventory.Unlock, error) {
	store.state.mu.RLock()
	defer store.state.mu.RUnlock()
	return append([]inventory.Unlock(nil), store.state.unlocks[accountID]...), nil
}

// IsCircleMember reports whether userID belongs to circleID.
func (store *Store) IsCircleMember(_ context.Context, circleID ledger.CircleID, userID ledger.UserID) (bool, error) {
	store.state.mu.RLock()
	defer store.state.mu.RUnlock()
	_, member := store.state.members[membershipKey(circleID, userID)]
	return member, nil
}

// AddCircleMember records a membership.
func (store *Store) AddCircleMember(_ context.Context, circleID ledger.CircleID, userID ledger.UserID) error {
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	store.state.members[membershipKey(circleID, userID)] = struct{}{}
	return nil
}

type txStore struct {
	*Store
	pending []ledger.Entry
}

func (transaction *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *txStore) InsertEntry(_ context.Context, entryInput ledger.EntryInput) (ledger.EntryID, error) {
	if transaction.conflicts(entryInput) {
		return ledger.EntryID{}, duplicateError()
	}
	entryID, err := ledger.NewEntryID(uuid.NewString())
	if err != nil {
		return ledger.EntryID{}, err
	}
	entry, err := ledger.NewEntry(entryID, entryInput)
	if err != nil {
		return ledger.EntryID{}, err
	}
	transaction.pending = append(transaction.pending, entry)
	return entryID, nil
}

func (transaction *txStore) SumBalance(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	committed, err := transaction.Store.SumBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	var pending int64
	for _, entry := range transaction.pending {
		if entry.AccountID() == accountID {
			pending += entry.Delta().Int64()
		}
	}
	return committed + pending, nil
}

func (transaction *txStore) conflicts(entryInput ledger.EntryInput) bool {
	key := entryInput.IdempotencyKey()
	if key.IsZero() {
		return false
	}
	if sameAccount(transaction.pending, entryInput.AccountID(), key) {
		return true
	}
	transaction.state.mu.RLock()
	defer transaction.state.mu.RUnlock()
	_, found := findByKey(transaction.state.entries[entryInput.AccountID()], key)
	return found
}

func (transaction *txStore) commit() error {
	transaction.state.mu.Lock()
	defer transaction.state.mu.Unlock()
	for _, entry := range transaction.pending {
		if entry.IdempotencyKey().IsZero() {
			continue
		}
		if _, found := findByKey(transaction.state.entries[entry.AccountID()], entry.IdempotencyKey()); found {
			return duplicateError()
		}
	}
	for _, entry := range transaction.pending {
		transaction.state.entries[entry.AccountID()] = append(transaction.state.entries[entry.AccountID()], entry)
	}
	transaction.pending = nil
	return nil
}

func sameAccount(entries []ledger.Entry, accountID ledger.AccountID, key ledger.IdempotencyKey) bool {
	for _, entry := range entries {
		if entry.AccountID() == accountID && entry.IdempotencyKey() == key {
			return true
		}
	}
	return false
}

func findByKey(entries []ledger.Entry, key ledger.IdempotencyKey) (ledger.Entry, bool) {
	for _, entry := range entries {
		if !key.IsZero() && entry.IdempotencyKey() == key {
			return entry, true
		}
	}
	return ledger.Entry{}, false
}

func sumEntries(entries []ledger.Entry) int64 {
	var total int64
	for _, entry := range entries {
		total += entry.Delta().Int64()
	}
	return total
}

func duplicateError() error {
	return ledger.WrapError(errorOperationStore, errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateOperation)
}

// accountKey mirrors the unique (user_id, circle_id) of the accounts table.
type accountKey struct {
	userID   string
	circleID string
}

func keyOf(scope ledger.AccountScope) accountKey {
	key := accountKey{userID: scope.UserID().String()}
	if circleID, ok := scope.CircleID(); ok {
		key.circleID = circleID.String()
	}
	return key
}

func membershipKey(circleID ledger.CircleID, userID ledger.UserID) string {
	return circleID.String() + "\x00" + userID.String()
}
