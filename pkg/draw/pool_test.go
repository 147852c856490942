package draw

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func seededSource(seed uint64) RandomSource {
	generator := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return SourceFunc(func(n int64) (int64, error) {
		return generator.Int64N(n), nil
	})
}

func sequenceSource(values ...int64) RandomSource {
	position := 0
	return SourceFunc(func(n int64) (int64, error) {
		value := values[position%len(values)]
		position++
		return value, nil
	})
}

func mustCompilePool(test *testing.T, config PoolConfig) *Pool {
	test.Helper()
	pool, err := CompilePool(config)
	if err != nil {
		test.Fatalf("compile pool: %v", err)
	}
	return pool
}

func weightedConfig(weights ...int64) PoolConfig {
	config := PoolConfig{Name: "standard", Version: "v1", Cost: 100}
	keys := []string{"a", "b", "c", "d", "e"}
	for index, weight := range weights {
		config.Items = append(config.Items, Item{ItemType: "badge", ItemKey: keys[index], Rarity: "common", Weight: weight})
	}
	return config
}

func TestSelectMatchesWeightProportions(test *testing.T) {
	test.Parallel()
	pool := mustCompilePool(test, weightedConfig(1, 1, 2))
	source := seededSource(42)

	const draws = 100000
	counts := map[string]int{}
	for attempt := 0; attempt < draws; attempt++ {
		prize, err := pool.Select(source)
		if err != nil {
			test.Fatalf("select: %v", err)
		}
		counts[prize.ItemKey]++
	}

	expected := map[string]float64{"a": 0.25, "b": 0.25, "c": 0.5}
	for key, probability := range expected {
		observed := float64(counts[key]) / draws
		// five standard deviations of a binomial proportion
		tolerance := 5 * math.Sqrt(probability*(1-probability)/draws)
		if math.Abs(observed-probability) > tolerance {
			test.Fatalf("item %s: observed %.4f, expected %.4f±%.4f", key, observed, probability, tolerance)
		}
	}
}

func TestSelectIsIndependentOfOrdering(test *testing.T) {
	test.Parallel()
	forward := mustCompilePool(test, PoolConfig{Name: "p", Cost: 1, Items: []Item{
		{ItemType: "badge", ItemKey: "rare", Weight: 1},
		{ItemType: "badge", ItemKey: "common", Weight: 3},
	}})
	reversed := mustCompilePool(test, PoolConfig{Name: "p", Cost: 1, Items: []Item{
		{ItemType: "badge", ItemKey: "common", Weight: 3},
		{ItemType: "badge", ItemKey: "rare", Weight: 1},
	}})

	for _, pool := range []*Pool{forward, reversed} {
		hits := map[string]int{}
		for value := int64(0); value < pool.TotalWeight(); value++ {
			prize, err := pool.Select(sequenceSource(value))
			if err != nil {
				test.Fatalf("select: %v", err)
			}
			hits[prize.ItemKey]++
		}
		if hits["rare"] != 1 || hits["common"] != 3 {
			test.Fatalf("unexpected coverage %v", hits)
		}
	}
}

func TestSelectBoundaries(test *testing.T) {
	test.Parallel()
	pool := mustCompilePool(test, weightedConfig(1, 0, 2))
	testCases := []struct {
		value    int64
		expected string
	}{
		{value: 0, expected: "a"},
		{value: 1, expected: "c"},
		{value: 2, expected: "c"},
	}
	for _, testCase := range testCases {
		prize, err := pool.Select(sequenceSource(testCase.value))
		if err != nil {
			test.Fatalf("select: %v", err)
		}
		if prize.ItemKey != testCase.expected {
			test.Fatalf("value %d: expected %s, got %s", testCase.value, testCase.expected, prize.ItemKey)
		}
	}
}

func TestSelectRejectsUndrawablePools(test *testing.T) {
	test.Parallel()
	testCases := map[string]PoolConfig{
		"empty":       {Name: "empty", Cost: 10},
		"zero weight": weightedConfig(0, 0),
	}
	for name, config := range testCases {
		pool := mustCompilePool(test, config)
		if _, err := pool.Select(seededSource(1)); !errors.Is(err, ErrPoolUnavailable) {
			test.Fatalf("%s: expected ErrPoolUnavailable, got %v", name, err)
		}
	}
}

func TestSelectRejectsOutOfRangeSource(test *testing.T) {
	test.Parallel()
	pool := mustCompilePool(test, weightedConfig(1, 1))
	if _, err := pool.Select(sequenceSource(2)); err == nil {
		test.Fatalf("expected error for out-of-range value")
	}
	failing := SourceFunc(func(int64) (int64, error) { return 0, errors.New("entropy") })
	if _, err := pool.Select(failing); err == nil {
		test.Fatalf("expected source error")
	}
}

func TestCompilePoolRejectsInvalidDefinitions(test *testing.T) {
	test.Parallel()
	testCases := map[string]PoolConfig{
		"empty name":      {Cost: 10},
		"zero cost":       {Name: "p", Cost: 0},
		"negative weight": {Name: "p", Cost: 10, Items: []Item{{ItemType: "badge", ItemKey: "a", Weight: -1}}},
		"missing key":     {Name: "p", Cost: 10, Items: []Item{{ItemType: "badge", Weight: 1}}},
		"duplicate item": {Name: "p", Cost: 10, Items: []Item{
			{ItemType: "badge", ItemKey: "a", Weight: 1},
			{ItemType: "badge", ItemKey: "a", Weight: 2},
		}},
	}
	for name, config := range testCases {
		if _, err := CompilePool(config); !errors.Is(err, ErrInvalidPool) {
			test.Fatalf("%s: expected ErrInvalidPool, got %v", name, err)
		}
	}
}

func TestCryptoSourceStaysInRange(test *testing.T) {
	test.Parallel()
	source := CryptoSource{}
	for attempt := 0; attempt < 1000; attempt++ {
		value, err := source.Int63n(7)
		if err != nil {
			test.Fatalf("crypto source: %v", err)
		}
		if value < 0 || value >= 7 {
			test.Fatalf("value %d out of range", value)
		}
	}
	if _, err := source.Int63n(0); err == nil {
		test.Fatalf("expected error for zero bound")
	}
}
