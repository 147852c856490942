package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintEntryIdempotencyKey = "uniq_ledger_entries_account_idem"
	pgUniqueViolationCode         = "23505"
	errorOperationStore           = "store"
	errorSubjectAccount           = "account"
	errorSubjectBalance           = "balance"
	errorSubjectEntry             = "entry"
	errorSubjectMember            = "member"
	errorSubjectTransaction       = "transaction"
	errorSubjectUnlock            = "unlock"
	errorCodeBegin                = "begin"
	errorCodeCommit               = "commit"
	errorCodeCreate               = "create"
	errorCodeDuplicate            = "duplicate"
	errorCodeGet                  = "get"
	errorCodeInsert               = "insert"
	errorCodeInvalid              = "invalid"
	errorCodeList                 = "list"
	errorCodeLock                 = "lock"
	errorCodeLookup               = "lookup"
	errorCodeSum                  = "sum"

	sqlInsertOrGetAccount = `
		insert into accounts(user_id, circle_id) values($1, $2)
		on conflict (user_id, circle_id) do update set user_id = excluded.user_id
		returning account_id::text
	`

	sqlLockAccount = `select account_id::text from accounts where account_id = $1 for update`

	sqlInsertEntry = `
		insert into ledger_entries(
			account_id, reason, delta, metadata, request_id, idempotency_key, created_at
		)
		values(
			$1, $2, $3,
			coalesce(nullif($4,''),'{}')::jsonb,
			nullif($5,''), nullif($6,''),
			coalesce(to_timestamp(nullif($7,0)), now())
		)
		returning entry_id::text
	`

	sqlSumBalance = `select coalesce(sum(delta),0)::bigint from ledger_entries where account_id = $1`

	sqlEntryColumns = `
		select
			entry_id::text,
			account_id::text,
			reason,
			delta,
			coalesce(metadata::text,'{}'),
			coalesce(request_id,''),
			coalesce(idempotency_key,''),
			extract(epoch from created_at)::bigint
		from ledger_entries
	`

	sqlSelectEntryByKey = sqlEntryColumns + `where account_id = $1 and idempotency_key = $2`

	sqlListEntriesBefore = sqlEntryColumns + `
		where account_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`

	sqlInsertUnlock = `
		insert into unlocks(account_id, item_type, item_key, rarity, source, acquired_at)
		values($1, $2, $3, $4, $5, to_timestamp($6))
		on conflict (account_id, item_type, item_key) do nothing
		returning unlock_id::text
	`

	sqlUnlockColumns = `
		select unlock_id::text, account_id::text, item_type, item_key, rarity, source, extract(epoch from acquired_at)::bigint
		from unlocks
	`

	sqlSelectUnlock = sqlUnlockColumns + `where account_id = $1 and item_type = $2 and item_key = $3`

	sqlListUnlocks = sqlUnlockColumns + `where account_id = $1 order by acquired_at asc`

	sqlIsCircleMember = `select exists(select 1 from circle_members where circle_id = $1 and user_id = $2)`

	sqlInsertCircleMember = `
		insert into circle_members(circle_id, user_id) values($1, $2)
		on conflict (circle_id, user_id) do nothing
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements ledger.Store and inventory.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

type queries struct {
	db querier
}

func (store queries) GetOrCreateAccountID(ctx context.Context, scope ledger.AccountScope) (ledger.AccountID, error) {
	circleID := ""
	if circle, ok := scope.CircleID(); ok {
		circleID = circle.String()
	}
	var accountIDValue string
	err := store.db.QueryRow(ctx, sqlInsertOrGetAccount, scope.UserID().String(), circleID).Scan(&accountIDValue)
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, nil
}

func (store queries) LockAccount(ctx context.Context, accountID ledger.AccountID) error {
	var locked string
	if err := store.db.QueryRow(ctx, sqlLockAccount, accountID.String()).Scan(&locked); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return nil
}

func (store queries) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (ledger.EntryID, error) {
	var entryIDValue string
	err := store.db.QueryRow(ctx, sqlInsertEntry,
		entryInput.AccountID().String(),
		entryInput.Reason().String(),
		entryInput.Delta().Int64(),
		entryInput.MetadataJSON().String(),
		entryInput.RequestID().String(),
		entryInput.IdempotencyKey().String(),
		entryInput.CreatedUnixUTC(),
	).Scan(&entryIDValue)
	if isUniqueConflict(err, constraintEntryIdempotencyKey) {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateOperation)
	}
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entryID, err := ledger.NewEntryID(entryIDValue)
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entryID, nil
}

func (store queries) SumBalance(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumBalance, accountID.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum, nil
}

func (store queries) FindEntryByIdempotencyKey(ctx context.Context, accountID ledger.AccountID, key ledger.IdempotencyKey) (ledger.Entry, error) {
	entry, err := scanEntry(store.db.QueryRow(ctx, sqlSelectEntryByKey, accountID.String(), key.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrEntryNotFound)
		}
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, nil
}

func (store queries) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	rows, err := store.db.Query(ctx, sqlListEntriesBefore, accountID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func (store queries) GetOrCreateUnlock(ctx context.Context, input inventory.UnlockInput) (inventory.Unlock, bool, error) {
	var insertedID string
	err := store.db.QueryRow(ctx, sqlInsertUnlock,
		input.AccountID.String(),
		input.Item.ItemType(),
		input.Item.ItemKey(),
		input.Rarity,
		string(input.Source),
		input.AcquiredAtUnix,
	).Scan(&insertedID)
	created := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return inventory.Unlock{}, false, wrapStoreError(errorSubjectUnlock, errorCodeInsert, err)
	}
	unlock, err := scanUnlock(store.db.QueryRow(ctx, sqlSelectUnlock, input.AccountID.String(), input.Item.ItemType(), input.Item.ItemKey()))
	if err != nil {
		return inventory.Unlock{}, false, wrapStoreError(errorSubjectUnlock, errorCodeGet, err)
	}
	return unlock, created, nil
}

func (store queries) ListUnlocks(ctx context.Context, accountID ledger.AccountID) ([]inventory.Unlock, error) {
	rows, err := store.db.Query(ctx, sqlListUnlocks, accountID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectUnlock, errorCodeList, err)
	}
	defer rows.Close()
	unlocks := make([]inventory.Unlock, 0)
	for rows.Next() {
		unlock, err := scanUnlock(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUnlock, errorCodeInvalid, err)
		}
		unlocks = append(unlocks, unlock)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectUnlock, errorCodeList, err)
	}
	return unlocks, nil
}

// IsCircleMember reports whether userID belongs to circleID.
func (store queries) IsCircleMember(ctx context.Context, circleID ledger.CircleID, userID ledger.UserID) (bool, error) {
	var member bool
	if err := store.db.QueryRow(ctx, sqlIsCircleMember, circleID.String(), userID.String()).Scan(&member); err != nil {
		return false, wrapStoreError(errorSubjectMember, errorCodeLookup, err)
	}
	return member, nil
}

// AddCircleMember records a membership. Existing memberships are left unchanged.
func (store queries) AddCircleMember(ctx context.Context, circleID ledger.CircleID, userID ledger.UserID) error {
	if _, err := store.db.Exec(ctx, sqlInsertCircleMember, circleID.String(), userID.String()); err != nil {
		return wrapStoreError(errorSubjectMember, errorCodeCreate, err)
	}
	return nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		entryIDValue     string
		accountIDValue   string
		reasonValue      string
		deltaValue       int64
		metadataValue    string
		requestIDValue   string
		idempotencyValue string
		createdUnix      int64
	)
	if err := row.Scan(&entryIDValue, &accountIDValue, &reasonValue, &deltaValue, &metadataValue, &requestIDValue, &idempotencyValue, &createdUnix); err != nil {
		return ledger.Entry{}, err
	}
	entryID, err := ledger.NewEntryID(entryIDValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	reason, err := ledger.ParseReason(reasonValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	delta, err := ledger.NewDelta(deltaValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(metadataValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	requestID, err := ledger.NewRequestID(requestIDValue)
	if err != nil {
		return ledger.Entry{}, err
	}
	posting := ledger.Posting{Reason: reason, Metadata: metadata, RequestID: requestID}
	if idempotencyValue != "" {
		if posting.IdempotencyKey, err = ledger.NewIdempotencyKey(idempotencyValue); err != nil {
			return ledger.Entry{}, err
		}
	}
	input, err := ledger.NewEntryInput(accountID, delta, posting, createdUnix)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.NewEntry(entryID, input)
}

func scanUnlock(row pgx.Row) (inventory.Unlock, error) {
	var (
		unlock         inventory.Unlock
		accountIDValue string
		itemType       string
		itemKey        string
		source         string
	)
	if err := row.Scan(&unlock.UnlockID, &accountIDValue, &itemType, &itemKey, &unlock.Rarity, &source, &unlock.AcquiredAtUnix); err != nil {
		return inventory.Unlock{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return inventory.Unlock{}, err
	}
	item, err := inventory.NewItemRef(itemType, itemKey)
	if err != nil {
		return inventory.Unlock{}, err
	}
	unlock.AccountID = accountID
	unlock.Item = item
	unlock.Source = inventory.Source(source)
	return unlock, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueConflict(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
