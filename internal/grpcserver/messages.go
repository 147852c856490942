package grpcserver

// EarnRequest is the Earn input.
type EarnRequest struct {
	UserID    string `json:"user_id"`
	CircleID  string `json:"circle_id,omitempty"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id,omitempty"`
}

// EarnResponse is the Earn output. Code is ALREADY_AWARDED_TODAY on a repeat.
type EarnResponse struct {
	Earned         bool   `json:"earned"`
	AlreadyAwarded bool   `json:"already_awarded"`
	Code           string `json:"code,omitempty"`
	Reason         string `json:"reason"`
	Delta          int64  `json:"delta"`
	Balance        int64  `json:"balance"`
	Date           string `json:"date"`
}

// DrawRequest is the Draw input.
type DrawRequest struct {
	UserID    string `json:"user_id"`
	CircleID  string `json:"circle_id,omitempty"`
	Pool      string `json:"pool,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// DrawResponse is the Draw output.
type DrawResponse struct {
	Pool     string `json:"pool"`
	Cost     int64  `json:"cost"`
	Balance  int64  `json:"balance"`
	ItemType string `json:"item_type"`
	ItemKey  string `json:"item_key"`
	Rarity   string `json:"rarity"`
	IsNew    bool   `json:"is_new"`
	EntryID  string `json:"entry_id"`
	Replayed bool   `json:"replayed"`
}

// GetWalletRequest is the GetWallet input.
type GetWalletRequest struct {
	UserID        string `json:"user_id"`
	CircleID      string `json:"circle_id,omitempty"`
	Limit         int32  `json:"limit,omitempty"`
	BeforeUnixUTC int64  `json:"before_unix_utc,omitempty"`
}

// Entry is one ledger line.
type Entry struct {
	EntryID        string `json:"entry_id"`
	Reason         string `json:"reason"`
	Delta          int64  `json:"delta"`
	RequestID      string `json:"request_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	MetadataJSON   string `json:"metadata_json"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

// GetWalletResponse is the GetWallet output.
type GetWalletResponse struct {
	Balance int64    `json:"balance"`
	Entries []*Entry `json:"entries"`
}
