package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. CircleID is empty for personal wallets.
type Account struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index:uniq_accounts_user_circle,unique,priority:1"`
	CircleID  string    `gorm:"not null;default:'';index:uniq_accounts_user_circle,unique,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID        string         `gorm:"type:uuid;primaryKey"`
	AccountID      string         `gorm:"type:uuid;not null;index:idx_ledger_entries_account_created,priority:1;index:uniq_ledger_entries_account_idem,unique,priority:1"`
	Reason         string         `gorm:"not null"`
	Delta          int64          `gorm:"not null"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;not null"`
	RequestID      *string        `gorm:""`
	IdempotencyKey *string        `gorm:"index:uniq_ledger_entries_account_idem,unique,priority:2"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_ledger_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Unlock mirrors the unlocks table.
type Unlock struct {
	UnlockID   string    `gorm:"type:uuid;primaryKey"`
	AccountID  string    `gorm:"type:uuid;not null;index:uniq_unlocks_account_item,unique,priority:1"`
	ItemType   string    `gorm:"not null;index:uniq_unlocks_account_item,unique,priority:2"`
	ItemKey    string    `gorm:"not null;index:uniq_unlocks_account_item,unique,priority:3"`
	Rarity     string    `gorm:"not null"`
	Source     string    `gorm:"not null"`
	AcquiredAt time.Time `gorm:"not null"`
}

func (Unlock) TableName() string { return "unlocks" }

func (unlock *Unlock) BeforeCreate(tx *gorm.DB) error {
	if unlock.UnlockID == "" {
		unlock.UnlockID = uuid.NewString()
	}
	return nil
}

// CircleMember mirrors the circle_members table owned by the circle service.
type CircleMember struct {
	CircleID string    `gorm:"primaryKey"`
	UserID   string    `gorm:"primaryKey"`
	JoinedAt time.Time `gorm:"not null"`
}

func (CircleMember) TableName() string { return "circle_members" }

// Models lists every table managed by AutoMigrate.
func Models() []any {
	return []any{&Account{}, &LedgerEntry{}, &Unlock{}, &CircleMember{}}
}
