package httpapi

import "encoding/json"

type earnRequest struct {
	Reason    string `json:"reason" validate:"required,reason"`
	RequestID string `json:"request_id" validate:"omitempty,max=128"`
}

type drawRequest struct {
	Pool      string `json:"pool" validate:"omitempty,max=64,poolname"`
	RequestID string `json:"request_id" validate:"omitempty,max=128"`
}

type historyQuery struct {
	Limit  int   `form:"limit" validate:"omitempty,min=1,max=200"`
	Before int64 `form:"before" validate:"omitempty,min=1"`
}

type earnResponse struct {
	Earned         bool   `json:"earned"`
	AlreadyAwarded bool   `json:"already_awarded"`
	Code           string `json:"code,omitempty"`
	Reason         string `json:"reason"`
	Delta          int64  `json:"delta"`
	Balance        int64  `json:"balance"`
	Date           string `json:"date"`
}

type prizePayload struct {
	ItemType string `json:"item_type"`
	ItemKey  string `json:"item_key"`
	Rarity   string `json:"rarity"`
	IsNew    bool   `json:"is_new"`
}

type drawResponse struct {
	Pool     string       `json:"pool"`
	Cost     int64        `json:"cost"`
	Balance  int64        `json:"balance"`
	Prize    prizePayload `json:"prize"`
	EntryID  string       `json:"entry_id"`
	Replayed bool         `json:"replayed"`
}

type walletResponse struct {
	Balance int64          `json:"balance"`
	Items   []entryPayload `json:"items"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Reason         string          `json:"reason"`
	Delta          int64           `json:"delta"`
	RequestID      string          `json:"request_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type inventoryResponse struct {
	Items []unlockPayload `json:"items"`
}

type unlockPayload struct {
	ItemType       string `json:"item_type"`
	ItemKey        string `json:"item_key"`
	Rarity         string `json:"rarity"`
	Source         string `json:"source"`
	AcquiredAtUnix int64  `json:"acquired_at_unix"`
}

type errorDetail struct {
	Required          *int64            `json:"required,omitempty"`
	Balance           *int64            `json:"balance,omitempty"`
	RetryAfterSeconds *int64            `json:"retry_after_seconds,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
}

type errorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Detail  *errorDetail `json:"detail,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}
