package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Points is an integer amount of the virtual currency.
type Points int64

// Int64 exposes the raw amount.
func (points Points) Int64() int64 {
	return int64(points)
}

// NewPoints validates an amount and ensures it is strictly positive.
func NewPoints(raw int64) (Points, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
	}
	return Points(raw), nil
}

// Delta is the signed magnitude of a ledger entry. It is never zero.
type Delta int64

// NewDelta validates a signed entry amount.
func NewDelta(raw int64) (Delta, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must be non-zero", ErrInvalidDelta)
	}
	return Delta(raw), nil
}

// Int64 exposes the raw delta.
func (delta Delta) Int64() int64 {
	return int64(delta)
}

// Negated flips the sign of the delta.
func (delta Delta) Negated() Delta {
	return -delta
}

// ToDelta converts a positive amount to a credit delta.
func (points Points) ToDelta() Delta {
	return Delta(points)
}

// UserID identifies a currency holder.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// CircleID identifies a circle whose members hold circle-scoped currency.
type CircleID struct {
	value string
}

// NewCircleID validates and normalizes a circle id.
func NewCircleID(raw string) (CircleID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CircleID{}, fmt.Errorf("%w: empty value", ErrInvalidCircleID)
	}
	return CircleID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CircleID) String() string {
	return id.value
}

// AccountScope identifies a wallet: a user's personal wallet, or a user's
// stake within a circle. Personal and circle scopes never share entries.
type AccountScope struct {
	userID   UserID
	circleID CircleID
}

// PersonalScope returns the personal wallet scope for a user.
func PersonalScope(userID UserID) AccountScope {
	return AccountScope{userID: userID}
}

// CircleScope returns the circle-scoped wallet of a user.
func CircleScope(circleID CircleID, userID UserID) AccountScope {
	return AccountScope{userID: userID, circleID: circleID}
}

// UserID returns the holder of the wallet.
func (scope AccountScope) UserID() UserID {
	return scope.userID
}

// CircleID returns the circle id for circle scopes.
func (scope AccountScope) CircleID() (CircleID, bool) {
	if scope.circleID.value == "" {
		return CircleID{}, false
	}
	return scope.circleID, true
}

// IsCircle reports whether the scope is circle-scoped.
func (scope AccountScope) IsCircle() bool {
	return scope.circleID.value != ""
}

// Validate ensures the scope has a holder.
func (scope AccountScope) Validate() error {
	if scope.userID.value == "" {
		return fmt.Errorf("%w: scope without user", ErrInvalidUserID)
	}
	return nil
}

// Key renders a stable string for locks and rate-limit buckets. The circle id
// is length-prefixed so ids containing the delimiter never collide.
func (scope AccountScope) Key() string {
	if scope.IsCircle() {
		return scopeKeyCirclePrefix + idempotencyKeyDelimiter + strconv.Itoa(len(scope.circleID.value)) + idempotencyKeyDelimiter + scope.circleID.value +
			idempotencyKeyDelimiter + scopeKeyPersonalPrefix + idempotencyKeyDelimiter + scope.userID.value
	}
	return scopeKeyPersonalPrefix + idempotencyKeyDelimiter + scope.userID.value
}

// AccountID identifies the stored account row of a scope.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// EntryID identifies a ledger entry.
type EntryID struct {
	value string
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// RequestID is an optional caller-supplied correlation id.
type RequestID struct {
	value string
}

// NewRequestID validates a request id. An empty input yields the zero value.
func NewRequestID(raw string) (RequestID, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxRequestIDLength {
		return RequestID{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidRequestID, maxRequestIDLength)
	}
	return RequestID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RequestID) String() string {
	return id.value
}

// IsZero reports whether no request id was supplied.
func (id RequestID) IsZero() bool {
	return id.value == ""
}

// IdempotencyKey scopes duplicate detection within an account.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if len(trimmed) > maxIdempotencyKeyLength {
		return IdempotencyKey{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidIdempotencyKey, maxIdempotencyKeyLength)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// DeriveIdempotencyKey joins semantic parts of an operation into a key,
// e.g. DeriveIdempotencyKey("daily_login", "2026-10-16").
func DeriveIdempotencyKey(parts ...string) (IdempotencyKey, error) {
	return NewIdempotencyKey(strings.Join(parts, idempotencyKeyDelimiter))
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether the key is absent.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// MetadataJSON stores the opaque audit payload of an entry.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MarshalMetadata encodes a value as entry metadata.
func MarshalMetadata(value any) (MetadataJSON, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(raw))
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Decode unmarshals the metadata into target.
func (metadata MetadataJSON) Decode(target any) error {
	if err := json.Unmarshal([]byte(metadata.String()), target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return nil
}

// Reason is the operation code recorded on every entry.
type Reason string

const (
	ReasonDailyLogin       Reason = "daily_login"
	ReasonAwardShare       Reason = "award_share"
	ReasonCircleDailyLogin Reason = "circle_daily_login"
	ReasonGachaPullCost    Reason = "gacha_pull_cost"
	ReasonCircleGachaDraw  Reason = "circle_gacha_draw"
	ReasonAdminGrant       Reason = "admin_grant"
)

var knownReasons = map[Reason]struct{}{
	ReasonDailyLogin:       {},
	ReasonAwardShare:       {},
	ReasonCircleDailyLogin: {},
	ReasonGachaPullCost:    {},
	ReasonCircleGachaDraw:  {},
	ReasonAdminGrant:       {},
}

// ParseReason validates a reason against the closed set.
func ParseReason(raw string) (Reason, error) {
	reason := Reason(strings.TrimSpace(raw))
	if _, ok := knownReasons[reason]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, raw)
	}
	return reason, nil
}

// String returns the reason code.
func (reason Reason) String() string {
	return string(reason)
}

// IsCircleScoped reports whether the reason only applies to circle wallets.
func (reason Reason) IsCircleScoped() bool {
	return reason == ReasonCircleDailyLogin || reason == ReasonCircleGachaDraw
}

// IsPersonalScoped reports whether the reason only applies to personal wallets.
func (reason Reason) IsPersonalScoped() bool {
	return reason == ReasonDailyLogin || reason == ReasonAwardShare || reason == ReasonGachaPullCost
}

// Posting carries the descriptive fields of an entry about to be appended.
type Posting struct {
	Reason         Reason
	Metadata       MetadataJSON
	RequestID      RequestID
	IdempotencyKey IdempotencyKey
}

// PostingResult describes a committed append.
type PostingResult struct {
	EntryID EntryID
	Balance Points
}

// EntryInput is a validated entry ready to be persisted.
type EntryInput struct {
	accountID      AccountID
	reason         Reason
	delta          Delta
	metadata       MetadataJSON
	requestID      RequestID
	idempotencyKey IdempotencyKey
	createdUnixUTC int64
}

// NewEntryInput validates the fields of an entry to append.
func NewEntryInput(accountID AccountID, delta Delta, posting Posting, createdUnixUTC int64) (EntryInput, error) {
	if accountID.value == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if delta == 0 {
		return EntryInput{}, fmt.Errorf("%w: must be non-zero", ErrInvalidDelta)
	}
	if _, err := ParseReason(posting.Reason.String()); err != nil {
		return EntryInput{}, err
	}
	return EntryInput{
		accountID:      accountID,
		reason:         posting.Reason,
		delta:          delta,
		metadata:       posting.Metadata,
		requestID:      posting.RequestID,
		idempotencyKey: posting.IdempotencyKey,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// AccountID returns the owning account.
func (input EntryInput) AccountID() AccountID { return input.accountID }

// Reason returns the operation code.
func (input EntryInput) Reason() Reason { return input.reason }

// Delta returns the signed amount.
func (input EntryInput) Delta() Delta { return input.delta }

// MetadataJSON returns the audit payload.
func (input EntryInput) MetadataJSON() MetadataJSON { return input.metadata }

// RequestID returns the optional correlation id.
func (input EntryInput) RequestID() RequestID { return input.requestID }

// IdempotencyKey returns the optional dedup key.
func (input EntryInput) IdempotencyKey() IdempotencyKey { return input.idempotencyKey }

// CreatedUnixUTC returns the creation timestamp.
func (input EntryInput) CreatedUnixUTC() int64 { return input.createdUnixUTC }

// Entry is a single immutable line in the ledger.
type Entry struct {
	entryID EntryID
	EntryInput
}

// NewEntry rebuilds a stored entry.
func NewEntry(entryID EntryID, input EntryInput) (Entry, error) {
	if entryID.value == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return Entry{entryID: entryID, EntryInput: input}, nil
}

// EntryID returns the entry identifier.
func (entry Entry) EntryID() EntryID { return entry.entryID }

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountID(ctx context.Context, scope AccountScope) (AccountID, error)
	// LockAccount takes a row lock on the account for the rest of the transaction.
	LockAccount(ctx context.Context, accountID AccountID) error
	InsertEntry(ctx context.Context, entry EntryInput) (EntryID, error)
	SumBalance(ctx context.Context, accountID AccountID) (int64, error)
	FindEntryByIdempotencyKey(ctx context.Context, accountID AccountID, key IdempotencyKey) (Entry, error)
	ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error)
}
