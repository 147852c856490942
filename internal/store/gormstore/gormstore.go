package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintEntryIdempotencyKey = "uniq_ledger_entries_account_idem"
	defaultMetadataJSON           = "{}"
	pgUniqueViolationCode         = "23505"
	sqliteConstraintCode          = 19
	sqliteConstraintUniqueCode    = 2067
	errorOperationStore           = "store"
	errorSubjectAccount           = "account"
	errorSubjectBalance           = "balance"
	errorSubjectEntry             = "entry"
	errorSubjectMember            = "member"
	errorSubjectUnlock            = "unlock"
	errorCodeCreate               = "create"
	errorCodeDuplicate            = "duplicate"
	errorCodeGet                  = "get"
	errorCodeInsert               = "insert"
	errorCodeInvalid              = "invalid"
	errorCodeList                 = "list"
	errorCodeLock                 = "lock"
	errorCodeLookup               = "lookup"
	errorCodeSum                  = "sum"
)

// Store implements ledger.Store and inventory.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the tables for databases without SQL migrations.
func (store *Store) AutoMigrate(ctx context.Context) error {
	return store.db.WithContext(ctx).AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateAccountID resolves the account row of a scope, inserting it on first use.
func (store *Store) GetOrCreateAccountID(ctx context.Context, scope ledger.AccountScope) (ledger.AccountID, error) {
	circleID := ""
	if circle, ok := scope.CircleID(); ok {
		circleID = circle.String()
	}
	candidate := Account{UserID: scope.UserID().String(), CircleID: circleID, CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&candidate).Error
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	var account Account
	err = store.db.WithContext(ctx).
		Where("user_id = ? AND circle_id = ?", candidate.UserID, candidate.CircleID).
		Take(&account).Error
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := ledger.NewAccountID(account.AccountID)
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, nil
}

// LockAccount takes SELECT ... FOR UPDATE on the account row.
func (store *Store) LockAccount(ctx context.Context, accountID ledger.AccountID) error {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (ledger.EntryID, error) {
	entry := LedgerEntry{
		AccountID:      entryInput.AccountID().String(),
		Reason:         entryInput.Reason().String(),
		Delta:          entryInput.Delta().Int64(),
		Metadata:       datatypesJSON(entryInput.MetadataJSON().String()),
		RequestID:      optionalString(entryInput.RequestID().String()),
		IdempotencyKey: optionalString(entryInput.IdempotencyKey().String()),
		CreatedAt:      time.Unix(entryInput.CreatedUnixUTC(), 0).UTC(),
	}
	if entryInput.CreatedUnixUTC() == 0 {
		entry.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&entry).Error
	if isUniqueConflict(err, constraintEntryIdempotencyKey) {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateOperation)
	}
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entryID, err := ledger.NewEntryID(entry.EntryID)
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entryID, nil
}

func (store *Store) SumBalance(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(delta),0) as total").
		Where("account_id = ?", accountID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) FindEntryByIdempotencyKey(ctx context.Context, accountID ledger.AccountID, key ledger.IdempotencyKey) (ledger.Entry, error) {
	var row LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID.String(), key.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrEntryNotFound)
		}
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetOrCreateUnlock inserts with ON CONFLICT DO NOTHING and reads the surviving row back.
func (store *Store) GetOrCreateUnlock(ctx context.Context, input inventory.UnlockInput) (inventory.Unlock, bool, error) {
	candidate := Unlock{
		AccountID:  input.AccountID.String(),
		ItemType:   input.Item.ItemType(),
		ItemKey:    input.Item.ItemKey(),
		Rarity:     input.Rarity,
		Source:     string(input.Source),
		AcquiredAt: time.Unix(input.AcquiredAtUnix, 0).UTC(),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&candidate)
	if result.Error != nil {
		return inventory.Unlock{}, false, wrapStoreError(errorSubjectUnlock, errorCodeInsert, result.Error)
	}
	created := result.RowsAffected == 1

	var row Unlock
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND item_type = ? AND item_key = ?", candidate.AccountID, candidate.ItemType, candidate.ItemKey).
		Take(&row).Error
	if err != nil {
		return inventory.Unlock{}, false, wrapStoreError(errorSubjectUnlock, errorCodeGet, err)
	}
	unlock, err := mapUnlock(row)
	if err != nil {
		return inventory.Unlock{}, false, wrapStoreError(errorSubjectUnlock, errorCodeInvalid, err)
	}
	return unlock, created, nil
}

func (store *Store) ListUnlocks(ctx context.Context, accountID ledger.AccountID) ([]inventory.Unlock, error) {
	var rows []Unlock
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("acquired_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectUnlock, errorCodeList, err)
	}
	unlocks := make([]inventory.Unlock, 0, len(rows))
	for _, row := range rows {
		unlock, err := mapUnlock(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUnlock, errorCodeInvalid, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return unlocks, nil
}

// IsCircleMember reports whether userID belongs to circleID.
func (store *Store) IsCircleMember(ctx context.Context, circleID ledger.CircleID, userID ledger.UserID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CircleMember{}).
		Where("circle_id = ? AND user_id = ?", circleID.String(), userID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectMember, errorCodeLookup, err)
	}
	return count > 0, nil
}

// AddCircleMember records a membership. Existing memberships are left unchanged.
func (store *Store) AddCircleMember(ctx context.Context, circleID ledger.CircleID, userID ledger.UserID) error {
	member := CircleMember{CircleID: circleID.String(), UserID: userID.String(), JoinedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&member).Error
	if err != nil {
		return wrapStoreError(errorSubjectMember, errorCodeCreate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	entryID, err := ledger.NewEntryID(row.EntryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Entry{}, err
	}
	reason, err := ledger.ParseReason(row.Reason)
	if err != nil {
		return ledger.Entry{}, err
	}
	delta, err := ledger.NewDelta(row.Delta)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	posting := ledger.Posting{Reason: reason, Metadata: metadata}
	if row.RequestID != nil {
		if posting.RequestID, err = ledger.NewRequestID(*row.RequestID); err != nil {
			return ledger.Entry{}, err
		}
	}
	if row.IdempotencyKey != nil {
		if posting.IdempotencyKey, err = ledger.NewIdempotencyKey(*row.IdempotencyKey); err != nil {
			return ledger.Entry{}, err
		}
	}
	input, err := ledger.NewEntryInput(accountID, delta, posting, row.CreatedAt.Unix())
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.NewEntry(entryID, input)
}

func mapUnlock(row Unlock) (inventory.Unlock, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return inventory.Unlock{}, err
	}
	item, err := inventory.NewItemRef(row.ItemType, row.ItemKey)
	if err != nil {
		return inventory.Unlock{}, err
	}
	return inventory.Unlock{
		UnlockID:       row.UnlockID,
		AccountID:      accountID,
		Item:           item,
		Rarity:         row.Rarity,
		Source:         inventory.Source(row.Source),
		AcquiredAtUnix: row.AcquiredAt.Unix(),
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueConflict(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		// CHECK, NOT NULL and foreign key failures share the primary code 19
		if sqliteErr.Code() == sqliteConstraintUniqueCode {
			return true
		}
		return sqliteErr.Code() == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
