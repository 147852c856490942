package gacha

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ratelimit"
)

const (
	userValue   = "user-1"
	circleValue = "circle-1"
	poolName    = "standard"
	poolCost    = 100
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Unix() int64 {
	return clock.Now().Unix()
}

func (clock *testClock) Advance(step time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(step)
}

type recordingObserver struct {
	mu    sync.Mutex
	earns []string
	draws []string
}

func (observer *recordingObserver) EarnObserved(_ ledger.Reason, _ string, outcome string) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.earns = append(observer.earns, outcome)
}

func (observer *recordingObserver) DrawObserved(_ string, _ string, outcome string, _ string) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.draws = append(observer.draws, outcome)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, context.DeadlineExceeded
}

type harness struct {
	service  *Service
	store    *memstore.Store
	ledger   *ledger.Service
	registry *draw.Registry
	clock    *testClock
	observer *recordingObserver
}

type harnessOptions struct {
	config  func(config *Config)
	limiter ratelimit.Limiter
	source  draw.RandomSource
	pools   []draw.PoolConfig
}

func standardPool() draw.PoolConfig {
	return draw.PoolConfig{Name: poolName, Version: "v1", Cost: poolCost, Items: []draw.Item{
		{ItemType: "badge", ItemKey: "sakura", Rarity: "rare", Weight: 1},
		{ItemType: "frame", ItemKey: "gold", Rarity: "common", Weight: 3},
	}}
}

func newHarness(test *testing.T, options harnessOptions) *harness {
	test.Helper()
	clock := &testClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	store := memstore.New()
	ledgerService, err := ledger.NewService(store, clock.Unix)
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	inventoryService, err := inventory.NewService(store, clock.Unix)
	if err != nil {
		test.Fatalf("inventory: %v", err)
	}
	pools := options.pools
	if pools == nil {
		pools = []draw.PoolConfig{standardPool()}
	}
	snapshot, err := draw.NewSnapshot(pools, poolName)
	if err != nil {
		test.Fatalf("snapshot: %v", err)
	}
	registry := draw.NewRegistry(snapshot)
	source := options.source
	if source == nil {
		source = draw.SourceFunc(func(int64) (int64, error) { return 0, nil })
	}
	limiter := options.limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(clock.Now)
	}
	config := DefaultConfig()
	config.Location = time.FixedZone("JST", 9*60*60)
	if options.config != nil {
		options.config(&config)
	}
	observer := &recordingObserver{}
	service, err := NewService(Dependencies{
		Ledger:    ledgerService,
		Inventory: inventoryService,
		Engine:    draw.NewEngine(registry, draw.WithRandomSource(source)),
		Limiter:   limiter,
		Members:   store,
	}, config, WithClock(clock.Now), WithObserver(observer))
	if err != nil {
		test.Fatalf("gacha service: %v", err)
	}
	return &harness{service: service, store: store, ledger: ledgerService, registry: registry, clock: clock, observer: observer}
}

func (h *harness) personal() Caller {
	return Caller{UserID: userValue}
}

func (h *harness) circle() Caller {
	return Caller{UserID: userValue, CircleID: circleValue}
}

func (h *harness) join(test *testing.T) {
	test.Helper()
	circleID, err := ledger.NewCircleID(circleValue)
	if err != nil {
		test.Fatalf("circle id: %v", err)
	}
	userID, err := ledger.NewUserID(userValue)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if err := h.store.AddCircleMember(context.Background(), circleID, userID); err != nil {
		test.Fatalf("join: %v", err)
	}
}

func (h *harness) fund(test *testing.T, caller Caller, amount int64, key string) {
	test.Helper()
	if _, err := h.service.Grant(context.Background(), GrantRequest{Caller: caller, Amount: amount, IdempotencyKey: key}); err != nil {
		test.Fatalf("grant: %v", err)
	}
}

func (h *harness) balance(test *testing.T, caller Caller) int64 {
	test.Helper()
	scope, err := caller.scope()
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	balance, err := h.ledger.Balance(context.Background(), scope)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance.Int64()
}

func (h *harness) entries(test *testing.T, caller Caller) []ledger.Entry {
	test.Helper()
	wallet, err := h.service.Wallet(context.Background(), WalletRequest{Caller: caller, Limit: maxHistoryLimit})
	if err != nil {
		test.Fatalf("wallet: %v", err)
	}
	return wallet.Entries
}
