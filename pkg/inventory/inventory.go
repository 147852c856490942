// Package inventory records which items an account has obtained.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
)

var (
	ErrInvalidItem          = errors.New("invalid item")
	ErrInvalidServiceConfig = errors.New("invalid inventory service config")
)

// Source describes how an unlock was obtained.
type Source string

const (
	SourceGacha       Source = "gacha"
	SourceCircleGacha Source = "circle_gacha"
	SourceGrant       Source = "grant"
)

// ItemRef identifies an unlockable item.
type ItemRef struct {
	itemType string
	itemKey  string
}

// NewItemRef validates an item reference.
func NewItemRef(itemType string, itemKey string) (ItemRef, error) {
	normalizedType := strings.TrimSpace(itemType)
	normalizedKey := strings.TrimSpace(itemKey)
	if normalizedType == "" || normalizedKey == "" {
		return ItemRef{}, fmt.Errorf("%w: type and key are required", ErrInvalidItem)
	}
	return ItemRef{itemType: normalizedType, itemKey: normalizedKey}, nil
}

// ItemType returns the item category.
func (ref ItemRef) ItemType() string { return ref.itemType }

// ItemKey returns the item identifier within its category.
func (ref ItemRef) ItemKey() string { return ref.itemKey }

// Unlock records that an account owns an item. It is created once and
// never changed afterwards.
type Unlock struct {
	UnlockID       string
	AccountID      ledger.AccountID
	Item           ItemRef
	Rarity         string
	Source         Source
	AcquiredAtUnix int64
}

// UnlockInput is the row to create when the account does not own the item yet.
type UnlockInput struct {
	AccountID      ledger.AccountID
	Item           ItemRef
	Rarity         string
	Source         Source
	AcquiredAtUnix int64
}

// Store persists unlocks.
type Store interface {
	GetOrCreateAccountID(ctx context.Context, scope ledger.AccountScope) (ledger.AccountID, error)
	// GetOrCreateUnlock inserts the unlock unless one exists for the same
	// account and item. created is true only for the caller whose insert won.
	GetOrCreateUnlock(ctx context.Context, input UnlockInput) (unlock Unlock, created bool, err error)
	ListUnlocks(ctx context.Context, accountID ledger.AccountID) ([]Unlock, error)
}

// UnlockResult reports the stored unlock and whether this call created it.
type UnlockResult struct {
	Unlock Unlock
	IsNew  bool
}

// Service records unlocks per account scope.
type Service struct {
	store Store
	nowFn func() int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil || now == nil {
		return nil, ErrInvalidServiceConfig
	}
	return &Service{store: store, nowFn: now}, nil
}

// Unlock grants item to scope. An existing unlock is returned unchanged
// with IsNew false, keeping its original rarity and acquisition time.
func (service *Service) Unlock(ctx context.Context, scope ledger.AccountScope, item ItemRef, rarity string, source Source) (UnlockResult, error) {
	if err := scope.Validate(); err != nil {
		return UnlockResult{}, err
	}
	if item.itemType == "" || item.itemKey == "" {
		return UnlockResult{}, fmt.Errorf("%w: empty reference", ErrInvalidItem)
	}
	accountID, err := service.store.GetOrCreateAccountID(ctx, scope)
	if err != nil {
		return UnlockResult{}, err
	}
	unlock, created, err := service.store.GetOrCreateUnlock(ctx, UnlockInput{
		AccountID:      accountID,
		Item:           item,
		Rarity:         strings.TrimSpace(rarity),
		Source:         source,
		AcquiredAtUnix: service.nowFn(),
	})
	if err != nil {
		return UnlockResult{}, err
	}
	return UnlockResult{Unlock: unlock, IsNew: created}, nil
}

// List returns every unlock owned by scope.
func (service *Service) List(ctx context.Context, scope ledger.AccountScope) ([]Unlock, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	accountID, err := service.store.GetOrCreateAccountID(ctx, scope)
	if err != nil {
		return nil, err
	}
	return service.store.ListUnlocks(ctx, accountID)
}
