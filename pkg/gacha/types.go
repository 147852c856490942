package gacha

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
)

// Caller is the resolved identity of a request. CircleID selects the
// caller's circle wallet; empty means the personal wallet.
type Caller struct {
	UserID   string
	CircleID string
}

func (caller Caller) scope() (ledger.AccountScope, error) {
	userID, err := ledger.NewUserID(caller.UserID)
	if err != nil {
		return ledger.AccountScope{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if strings.TrimSpace(caller.CircleID) == "" {
		return ledger.PersonalScope(userID), nil
	}
	circleID, err := ledger.NewCircleID(caller.CircleID)
	if err != nil {
		return ledger.AccountScope{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return ledger.CircleScope(circleID, userID), nil
}

// MembershipChecker answers whether a user belongs to a circle.
type MembershipChecker interface {
	IsCircleMember(ctx context.Context, circleID ledger.CircleID, userID ledger.UserID) (bool, error)
}

// EarnRequest asks for the credit attached to a reason.
type EarnRequest struct {
	Caller
	Reason    string
	RequestID string
}

// EarnResult reports the credit applied. A repeated earn within the same
// local day has Earned false, Delta zero, and AlreadyAwarded true.
type EarnResult struct {
	Earned         bool
	AlreadyAwarded bool
	Reason         ledger.Reason
	Delta          int64
	Balance        int64
	Date           string
}

// DrawRequest asks for one draw. A RequestID makes retries replay the
// recorded outcome instead of charging again.
type DrawRequest struct {
	Caller
	Pool      string
	RequestID string
}

// DrawResult is the outcome of a draw.
type DrawResult struct {
	Pool     string
	Cost     int64
	Balance  int64
	Prize    draw.Prize
	IsNew    bool
	EntryID  string
	Replayed bool
}

// WalletRequest pages through ledger history, newest first.
type WalletRequest struct {
	Caller
	Limit         int
	BeforeUnixUTC int64
}

// Wallet is a balance with recent entries.
type Wallet struct {
	Balance int64
	Entries []ledger.Entry
}

// GrantRequest credits a wallet on behalf of an operator.
type GrantRequest struct {
	Caller
	Amount         int64
	IdempotencyKey string
	Note           string
}

// InventoryRequest lists unlocks of a wallet.
type InventoryRequest struct {
	Caller
}

// InventoryResult lists unlocks.
type InventoryResult struct {
	Unlocks []inventory.Unlock
}

// drawMetadata is stored on each debit so a replay can rebuild the prize.
type drawMetadata struct {
	Pool        string `json:"pool"`
	PoolVersion string `json:"pool_version,omitempty"`
	ItemType    string `json:"item_type"`
	ItemKey     string `json:"item_key"`
	Rarity      string `json:"rarity"`
}

type earnMetadata struct {
	Date string `json:"date"`
}

type grantMetadata struct {
	Note string `json:"note,omitempty"`
}
