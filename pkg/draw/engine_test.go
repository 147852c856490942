package draw

import (
	"errors"
	"sync"
	"testing"
)

func mustSnapshot(test *testing.T, defaultPool string, configs ...PoolConfig) *Snapshot {
	test.Helper()
	snapshot, err := NewSnapshot(configs, defaultPool)
	if err != nil {
		test.Fatalf("snapshot: %v", err)
	}
	return snapshot
}

func TestEngineDrawUsesDefaultPool(test *testing.T) {
	test.Parallel()
	config := weightedConfig(1, 1, 2)
	registry := NewRegistry(mustSnapshot(test, "Standard", config))
	engine := NewEngine(registry, WithRandomSource(sequenceSource(0, 3)))

	first, err := engine.Draw("")
	if err != nil {
		test.Fatalf("draw: %v", err)
	}
	second, err := engine.Draw("STANDARD")
	if err != nil {
		test.Fatalf("draw: %v", err)
	}
	if first.ItemKey != "a" || second.ItemKey != "c" {
		test.Fatalf("unexpected prizes %+v %+v", first, second)
	}
}

func TestEngineDrawUnknownPool(test *testing.T) {
	test.Parallel()
	engine := NewEngine(NewRegistry(nil))
	if _, err := engine.Draw("missing"); !errors.Is(err, ErrPoolUnavailable) {
		test.Fatalf("expected ErrPoolUnavailable, got %v", err)
	}
}

func TestEngineLookupRejectsZeroWeightPool(test *testing.T) {
	test.Parallel()
	registry := NewRegistry(mustSnapshot(test, "standard", weightedConfig(0, 0)))
	if _, err := NewEngine(registry).Pool("standard"); !errors.Is(err, ErrPoolUnavailable) {
		test.Fatalf("expected ErrPoolUnavailable, got %v", err)
	}
}

func TestNewSnapshotRejectsDuplicatePools(test *testing.T) {
	test.Parallel()
	config := weightedConfig(1)
	shouted := config
	shouted.Name = "STANDARD"
	if _, err := NewSnapshot([]PoolConfig{config, shouted}, ""); !errors.Is(err, ErrInvalidPool) {
		test.Fatalf("expected ErrInvalidPool, got %v", err)
	}
}

func TestRegistryReplaceKeepsResolvedPool(test *testing.T) {
	test.Parallel()
	original := weightedConfig(1)
	registry := NewRegistry(mustSnapshot(test, "standard", original))
	engine := NewEngine(registry, WithRandomSource(sequenceSource(0)))

	resolved, err := engine.Pool("standard")
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	updated := PoolConfig{Name: "standard", Version: "v2", Cost: 300, Items: []Item{{ItemType: "frame", ItemKey: "gold", Weight: 1}}}
	registry.Replace(mustSnapshot(test, "standard", updated))

	prize, err := engine.Select(resolved)
	if err != nil {
		test.Fatalf("select: %v", err)
	}
	if prize.ItemKey != "a" || resolved.Cost() != 100 {
		test.Fatalf("resolved pool must not change, got %+v cost %d", prize, resolved.Cost())
	}
	current, err := engine.Pool("standard")
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	if current.Version() != "v2" || current.Cost() != 300 {
		test.Fatalf("expected reloaded pool, got %s/%d", current.Version(), current.Cost())
	}
}

func TestRegistryConcurrentReplaceAndDraw(test *testing.T) {
	test.Parallel()
	registry := NewRegistry(mustSnapshot(test, "standard", weightedConfig(1, 1)))
	engine := NewEngine(registry)

	var waitGroup sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for attempt := 0; attempt < 200; attempt++ {
				if _, err := engine.Draw("standard"); err != nil {
					test.Errorf("draw: %v", err)
					return
				}
			}
		}()
	}
	for version := 0; version < 50; version++ {
		registry.Replace(mustSnapshot(test, "standard", weightedConfig(1, 2, 3)))
	}
	waitGroup.Wait()

	names := registry.Snapshot().Names()
	if len(names) != 1 || names[0] != "standard" {
		test.Fatalf("unexpected names %v", names)
	}
}

func TestSnapshotPoolsIncludesUndrawable(test *testing.T) {
	test.Parallel()
	broken := weightedConfig(0)
	broken.Name = "Broken"
	snapshot := mustSnapshot(test, "standard", weightedConfig(1), broken)

	pools := snapshot.Pools()
	if len(pools) != 2 {
		test.Fatalf("expected 2 pools, got %d", len(pools))
	}
	if pools[0].Name() != "Broken" || pools[0].Drawable() {
		test.Fatalf("expected undrawable Broken first, got %s drawable=%t", pools[0].Name(), pools[0].Drawable())
	}
	if _, err := snapshot.Lookup("broken"); !errors.Is(err, ErrPoolUnavailable) {
		test.Fatalf("expected ErrPoolUnavailable, got %v", err)
	}
}
