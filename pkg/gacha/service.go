// Package gacha composes the ledger, draw engine, inventory, and rate
// limiter into the earn and draw operations.
package gacha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ratelimit"
	"go.uber.org/zap"
)

const (
	operationEarn        = "earn"
	operationDraw        = "draw"
	drawKeyPrefix        = "draw"
	calendarDateLayout   = "2006-01-02"
	logFieldOperation    = "operation"
	logFieldScope        = "scope"
	logFieldReason       = "reason"
	logFieldPool         = "pool"
	logFieldRequestID    = "request_id"
	logFieldBalance      = "balance"
	logFieldRequired     = "required"
	logFieldRetryAfter   = "retry_after"
	logFieldItemKey      = "item_key"
	logFieldRarity       = "rarity"
	logFieldIsNew        = "is_new"
	logFieldReplayed     = "replayed"
	logMessageRejected   = "insufficient funds"
	logMessageThrottled  = "rate limited"
	logMessageAwarded    = "already awarded"
	logMessageEarned     = "points earned"
	logMessageDrawn      = "prize drawn"
	logMessagePoolBroken = "pool unavailable"
)

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Ledger    *ledger.Service
	Inventory *inventory.Service
	Engine    *draw.Engine
	Limiter   ratelimit.Limiter
	Members   MembershipChecker
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer Observer) Option {
	return func(service *Service) {
		if observer != nil {
			service.observer = observer
		}
	}
}

// WithClock replaces time.Now for calendar-date derivation.
func WithClock(now func() time.Time) Option {
	return func(service *Service) {
		if now != nil {
			service.nowFn = now
		}
	}
}

// Service runs earn and draw requests.
type Service struct {
	ledger    *ledger.Service
	inventory *inventory.Service
	engine    *draw.Engine
	limiter   ratelimit.Limiter
	members   MembershipChecker
	config    Config
	logger    *zap.Logger
	observer  Observer
	nowFn     func() time.Time
}

// NewService validates dependencies and configuration.
func NewService(dependencies Dependencies, config Config, options ...Option) (*Service, error) {
	if dependencies.Ledger == nil || dependencies.Inventory == nil || dependencies.Engine == nil || dependencies.Limiter == nil || dependencies.Members == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	service := &Service{
		ledger:    dependencies.Ledger,
		inventory: dependencies.Inventory,
		engine:    dependencies.Engine,
		limiter:   dependencies.Limiter,
		members:   dependencies.Members,
		config:    config,
		logger:    zap.NewNop(),
		observer:  noopObserver{},
		nowFn:     time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Earn credits the amount configured for the reason at most once per local
// calendar day. A repeat is not an error: it reports Earned false with the
// current balance.
func (service *Service) Earn(ctx context.Context, request EarnRequest) (EarnResult, error) {
	reason, parseErr := ledger.ParseReason(request.Reason)
	scope, err := service.authorize(ctx, request.Caller)
	if err != nil {
		service.observer.EarnObserved(reason, scopeKind(scope), OutcomeRejected)
		return EarnResult{}, err
	}
	kind := scopeKind(scope)
	if parseErr != nil {
		service.observer.EarnObserved(reason, kind, OutcomeRejected)
		return EarnResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, parseErr)
	}
	amount, earnable := service.config.EarnAmounts[reason]
	if !earnable || reason.IsCircleScoped() != scope.IsCircle() {
		service.observer.EarnObserved(reason, kind, OutcomeRejected)
		return EarnResult{}, fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	requestID, err := ledger.NewRequestID(request.RequestID)
	if err != nil {
		service.observer.EarnObserved(reason, kind, OutcomeRejected)
		return EarnResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := service.checkRate(ctx, operationEarn, scope, service.config.EarnLimit); err != nil {
		service.observer.EarnObserved(reason, kind, OutcomeRateLimited)
		return EarnResult{}, err
	}

	date := service.nowFn().In(service.config.Location).Format(calendarDateLayout)
	key, err := ledger.DeriveIdempotencyKey(reason.String(), date)
	if err != nil {
		service.observer.EarnObserved(reason, kind, OutcomeError)
		return EarnResult{}, err
	}
	metadata, err := ledger.MarshalMetadata(earnMetadata{Date: date})
	if err != nil {
		service.observer.EarnObserved(reason, kind, OutcomeError)
		return EarnResult{}, err
	}
	posting := ledger.Posting{Reason: reason, Metadata: metadata, RequestID: requestID, IdempotencyKey: key}
	result, err := service.ledger.Credit(ctx, scope, ledger.Points(amount), posting)
	switch {
	case err == nil:
		service.observer.EarnObserved(reason, kind, OutcomeSuccess)
		service.logger.Debug(logMessageEarned,
			zap.String(logFieldScope, scope.Key()),
			zap.String(logFieldReason, reason.String()),
			zap.Int64(logFieldBalance, result.Balance.Int64()),
		)
		return EarnResult{Earned: true, Reason: reason, Delta: amount, Balance: result.Balance.Int64(), Date: date}, nil
	case errors.Is(err, ledger.ErrDuplicateOperation):
		balance, balanceErr := service.ledger.Balance(ctx, scope)
		if balanceErr != nil {
			service.observer.EarnObserved(reason, kind, OutcomeError)
			return EarnResult{}, balanceErr
		}
		service.observer.EarnObserved(reason, kind, OutcomeDuplicate)
		service.logger.Info(logMessageAwarded,
			zap.String(logFieldScope, scope.Key()),
			zap.String(logFieldReason, reason.String()),
		)
		return EarnResult{AlreadyAwarded: true, Reason: reason, Balance: balance.Int64(), Date: date}, nil
	default:
		service.observer.EarnObserved(reason, kind, OutcomeError)
		service.logger.Error("earn failed", zap.String(logFieldScope, scope.Key()), zap.Error(err))
		return EarnResult{}, err
	}
}

// Draw charges the pool cost and awards one prize. The prize is selected
// before the debit so the debit entry records it; a retry carrying the same
// RequestID replays that recorded prize without charging again. Once the
// debit commits, the unlock completes even if the caller goes away.
func (service *Service) Draw(ctx context.Context, request DrawRequest) (DrawResult, error) {
	scope, err := service.authorize(ctx, request.Caller)
	if err != nil {
		service.observer.DrawObserved(request.Pool, scopeKind(scope), OutcomeRejected, "")
		return DrawResult{}, err
	}
	kind := scopeKind(scope)
	requestID, err := ledger.NewRequestID(request.RequestID)
	if err != nil {
		service.observer.DrawObserved(request.Pool, kind, OutcomeRejected, "")
		return DrawResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := service.checkRate(ctx, operationDraw, scope, service.config.DrawLimit); err != nil {
		service.observer.DrawObserved(request.Pool, kind, OutcomeRateLimited, "")
		return DrawResult{}, err
	}

	// replay before resolving the pool, which a reload may have removed
	var key ledger.IdempotencyKey
	if !requestID.IsZero() {
		key, err = ledger.DeriveIdempotencyKey(drawKeyPrefix, requestID.String())
		if err != nil {
			service.observer.DrawObserved(request.Pool, kind, OutcomeRejected, "")
			return DrawResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		replayed, found, err := service.replay(ctx, scope, key)
		if err != nil {
			service.observer.DrawObserved(request.Pool, kind, OutcomeError, "")
			return DrawResult{}, err
		}
		if found {
			service.observer.DrawObserved(replayed.Pool, kind, OutcomeReplayed, replayed.Prize.Rarity)
			return replayed, nil
		}
	}

	poolName := request.Pool
	if strings.TrimSpace(poolName) == "" && scope.IsCircle() {
		poolName = service.config.DefaultCirclePool
	}
	pool, err := service.engine.Pool(poolName)
	if err != nil {
		service.observer.DrawObserved(poolName, kind, OutcomePoolUnavailable, "")
		service.logger.Error(logMessagePoolBroken, zap.String(logFieldPool, poolName), zap.Error(err))
		return DrawResult{}, err
	}

	prize, err := service.engine.Select(pool)
	if err != nil {
		service.observer.DrawObserved(pool.Name(), kind, OutcomePoolUnavailable, "")
		service.logger.Error(logMessagePoolBroken, zap.String(logFieldPool, pool.Name()), zap.Error(err))
		return DrawResult{}, err
	}
	metadata, err := ledger.MarshalMetadata(drawMetadata{
		Pool:        pool.Name(),
		PoolVersion: pool.Version(),
		ItemType:    prize.ItemType,
		ItemKey:     prize.ItemKey,
		Rarity:      prize.Rarity,
	})
	if err != nil {
		service.observer.DrawObserved(pool.Name(), kind, OutcomeError, "")
		return DrawResult{}, err
	}
	posting := ledger.Posting{Reason: drawReason(scope), Metadata: metadata, RequestID: requestID, IdempotencyKey: key}
	debit, err := service.ledger.Debit(ctx, scope, ledger.Points(pool.Cost()), posting)
	if err != nil {
		var insufficient *ledger.InsufficientFundsError
		switch {
		case errors.As(err, &insufficient):
			service.observer.DrawObserved(pool.Name(), kind, OutcomeInsufficient, "")
			service.logger.Info(logMessageRejected,
				zap.String(logFieldScope, scope.Key()),
				zap.String(logFieldPool, pool.Name()),
				zap.Int64(logFieldBalance, insufficient.Balance.Int64()),
				zap.Int64(logFieldRequired, insufficient.Required.Int64()),
			)
			return DrawResult{}, err
		case errors.Is(err, ledger.ErrDuplicateOperation):
			// a concurrent request with the same id committed first
			replayed, found, replayErr := service.replay(ctx, scope, key)
			if replayErr != nil {
				service.observer.DrawObserved(pool.Name(), kind, OutcomeError, "")
				return DrawResult{}, replayErr
			}
			if found {
				service.observer.DrawObserved(replayed.Pool, kind, OutcomeReplayed, replayed.Prize.Rarity)
				return replayed, nil
			}
		}
		service.observer.DrawObserved(pool.Name(), kind, OutcomeError, "")
		service.logger.Error("draw debit failed", zap.String(logFieldScope, scope.Key()), zap.Error(err))
		return DrawResult{}, err
	}

	unlock, err := service.unlock(context.WithoutCancel(ctx), scope, prize)
	if err != nil {
		service.observer.DrawObserved(pool.Name(), kind, OutcomeError, prize.Rarity)
		service.logger.Error("draw unlock failed",
			zap.String(logFieldScope, scope.Key()),
			zap.String(logFieldItemKey, prize.ItemKey),
			zap.String(logFieldRequestID, requestID.String()),
			zap.Error(err),
		)
		return DrawResult{}, err
	}
	service.observer.DrawObserved(pool.Name(), kind, OutcomeSuccess, prize.Rarity)
	service.logger.Debug(logMessageDrawn,
		zap.String(logFieldScope, scope.Key()),
		zap.String(logFieldPool, pool.Name()),
		zap.String(logFieldItemKey, prize.ItemKey),
		zap.String(logFieldRarity, prize.Rarity),
		zap.Bool(logFieldIsNew, unlock.IsNew),
	)
	return DrawResult{
		Pool:    pool.Name(),
		Cost:    pool.Cost(),
		Balance: debit.Balance.Int64(),
		Prize:   prize,
		IsNew:   unlock.IsNew,
		EntryID: debit.EntryID.String(),
	}, nil
}

// Wallet returns the balance and recent entries of the caller's wallet.
func (service *Service) Wallet(ctx context.Context, request WalletRequest) (Wallet, error) {
	scope, err := service.authorize(ctx, request.Caller)
	if err != nil {
		return Wallet{}, err
	}
	balance, err := service.ledger.Balance(ctx, scope)
	if err != nil {
		return Wallet{}, err
	}
	before := request.BeforeUnixUTC
	if before <= 0 {
		before = service.nowFn().Add(time.Second).Unix()
	}
	entries, err := service.ledger.ListEntries(ctx, scope, before, normalizeHistoryLimit(request.Limit))
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Balance: balance.Int64(), Entries: entries}, nil
}

// Inventory lists the items owned by the caller's wallet.
func (service *Service) Inventory(ctx context.Context, request InventoryRequest) (InventoryResult, error) {
	scope, err := service.authorize(ctx, request.Caller)
	if err != nil {
		return InventoryResult{}, err
	}
	unlocks, err := service.inventory.List(ctx, scope)
	if err != nil {
		return InventoryResult{}, err
	}
	return InventoryResult{Unlocks: unlocks}, nil
}

// Grant credits a wallet for operators. It skips membership and rate checks
// and requires an idempotency key.
func (service *Service) Grant(ctx context.Context, request GrantRequest) (ledger.PostingResult, error) {
	scope, err := request.Caller.scope()
	if err != nil {
		return ledger.PostingResult{}, err
	}
	amount, err := ledger.NewPoints(request.Amount)
	if err != nil {
		return ledger.PostingResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	key, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		return ledger.PostingResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	metadata, err := ledger.MarshalMetadata(grantMetadata{Note: request.Note})
	if err != nil {
		return ledger.PostingResult{}, err
	}
	return service.ledger.Credit(ctx, scope, amount, ledger.Posting{Reason: ledger.ReasonAdminGrant, Metadata: metadata, IdempotencyKey: key})
}

func (service *Service) authorize(ctx context.Context, caller Caller) (ledger.AccountScope, error) {
	scope, err := caller.scope()
	if err != nil {
		return ledger.AccountScope{}, err
	}
	circleID, isCircle := scope.CircleID()
	if !isCircle {
		return scope, nil
	}
	member, err := service.members.IsCircleMember(ctx, circleID, scope.UserID())
	if err != nil {
		return scope, err
	}
	if !member {
		return scope, fmt.Errorf("%w: %s", ErrNotCircleMember, circleID)
	}
	return scope, nil
}

// checkRate runs before any lock or ledger access. Limiter failures let the
// request through; balance safety does not depend on the limiter.
func (service *Service) checkRate(ctx context.Context, operation string, scope ledger.AccountScope, limit Limit) error {
	decision, err := service.limiter.Allow(ctx, operation+":"+scope.Key(), limit.MaxAttempts, limit.Window)
	if err != nil {
		service.logger.Warn("rate limiter unavailable",
			zap.String(logFieldOperation, operation),
			zap.String(logFieldScope, scope.Key()),
			zap.Error(err),
		)
		return nil
	}
	if decision.Allowed {
		return nil
	}
	service.logger.Info(logMessageThrottled,
		zap.String(logFieldOperation, operation),
		zap.String(logFieldScope, scope.Key()),
		zap.Duration(logFieldRetryAfter, decision.RetryAfter),
	)
	return &RateLimitedError{Operation: operation, RetryAfter: decision.RetryAfter}
}

// replay rebuilds the outcome of a committed draw from its debit entry.
func (service *Service) replay(ctx context.Context, scope ledger.AccountScope, key ledger.IdempotencyKey) (DrawResult, bool, error) {
	entry, err := service.ledger.FindByIdempotencyKey(ctx, scope, key)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		return DrawResult{}, false, nil
	}
	if err != nil {
		return DrawResult{}, false, err
	}
	var recorded drawMetadata
	if err := entry.MetadataJSON().Decode(&recorded); err != nil {
		return DrawResult{}, false, err
	}
	prize := draw.Prize{ItemType: recorded.ItemType, ItemKey: recorded.ItemKey, Rarity: recorded.Rarity}
	unlock, err := service.unlock(context.WithoutCancel(ctx), scope, prize)
	if err != nil {
		return DrawResult{}, false, err
	}
	balance, err := service.ledger.Balance(ctx, scope)
	if err != nil {
		return DrawResult{}, false, err
	}
	service.logger.Info(logMessageDrawn,
		zap.String(logFieldScope, scope.Key()),
		zap.String(logFieldRequestID, entry.RequestID().String()),
		zap.Bool(logFieldReplayed, true),
	)
	return DrawResult{
		Pool:     recorded.Pool,
		Cost:     -entry.Delta().Int64(),
		Balance:  balance.Int64(),
		Prize:    prize,
		IsNew:    unlock.IsNew,
		EntryID:  entry.EntryID().String(),
		Replayed: true,
	}, true, nil
}

func (service *Service) unlock(ctx context.Context, scope ledger.AccountScope, prize draw.Prize) (inventory.UnlockResult, error) {
	item, err := inventory.NewItemRef(prize.ItemType, prize.ItemKey)
	if err != nil {
		return inventory.UnlockResult{}, err
	}
	source := inventory.SourceGacha
	if scope.IsCircle() {
		source = inventory.SourceCircleGacha
	}
	return service.inventory.Unlock(ctx, scope, item, prize.Rarity, source)
}

func drawReason(scope ledger.AccountScope) ledger.Reason {
	if scope.IsCircle() {
		return ledger.ReasonCircleGachaDraw
	}
	return ledger.ReasonGachaPullCost
}

func normalizeHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
