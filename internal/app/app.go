// Package app assembles the gacha service from a storage backend.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/logging"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/inventory"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ratelimit"
	"go.uber.org/zap"
)

// Backend is everything the services need from storage. gormstore, pgstore
// and memstore all satisfy it.
type Backend interface {
	ledger.Store
	inventory.Store
	gacha.MembershipChecker
}

// Options are the inputs of Build. Backend, Registry and Limiter are required.
type Options struct {
	Backend  Backend
	Registry *draw.Registry
	Limiter  ratelimit.Limiter
	Config   gacha.Config
	Logger   *zap.Logger
	Observer gacha.Observer
	Clock    func() time.Time
	Source   draw.RandomSource
}

// Components are the wired services.
type Components struct {
	Ledger    *ledger.Service
	Inventory *inventory.Service
	Engine    *draw.Engine
	Gacha     *gacha.Service
}

// Build wires the ledger, inventory, draw engine and orchestrator.
func Build(options Options) (*Components, error) {
	if options.Backend == nil || options.Registry == nil || options.Limiter == nil {
		return nil, errors.New("app: backend, registry and limiter are required")
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}
	unixClock := func() int64 { return clock().UTC().Unix() }

	ledgerService, err := ledger.NewService(options.Backend, unixClock, ledger.WithOperationLogger(logging.NewZapOperationLogger(logger)))
	if err != nil {
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	inventoryService, err := inventory.NewService(options.Backend, unixClock)
	if err != nil {
		return nil, fmt.Errorf("inventory service init: %w", err)
	}
	engineOptions := []draw.EngineOption{}
	if options.Source != nil {
		engineOptions = append(engineOptions, draw.WithRandomSource(options.Source))
	}
	engine := draw.NewEngine(options.Registry, engineOptions...)
	gachaService, err := gacha.NewService(gacha.Dependencies{
		Ledger:    ledgerService,
		Inventory: inventoryService,
		Engine:    engine,
		Limiter:   options.Limiter,
		Members:   options.Backend,
	}, options.Config, gacha.WithLogger(logger.Named("gacha")), gacha.WithObserver(options.Observer), gacha.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("gacha service init: %w", err)
	}
	return &Components{Ledger: ledgerService, Inventory: inventoryService, Engine: engine, Gacha: gachaService}, nil
}
