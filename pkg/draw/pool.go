package draw

import (
	"fmt"
	"sort"
	"strings"
)

// Item is one prize of a pool with its selection weight.
type Item struct {
	ItemType string
	ItemKey  string
	Rarity   string
	Weight   int64
}

// PoolConfig is the raw definition of a pool as read from configuration.
type PoolConfig struct {
	Name    string
	Version string
	Cost    int64
	Items   []Item
}

// Prize is the outcome of a draw.
type Prize struct {
	ItemType string `json:"item_type"`
	ItemKey  string `json:"item_key"`
	Rarity   string `json:"rarity"`
}

// Pool is a compiled, immutable pool ready for selection.
type Pool struct {
	name        string
	version     string
	cost        int64
	items       []Item
	cumulative  []int64
	totalWeight int64
}

// CompilePool validates a definition and builds its cumulative weight table.
// Negative weights, duplicate items, and non-positive costs are rejected.
// An empty pool or one whose weights sum to zero compiles but cannot be drawn.
func CompilePool(config PoolConfig) (*Pool, error) {
	name := strings.TrimSpace(config.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidPool)
	}
	if config.Cost <= 0 {
		return nil, fmt.Errorf("%w: %s cost must be positive", ErrInvalidPool, name)
	}
	items := make([]Item, 0, len(config.Items))
	cumulative := make([]int64, 0, len(config.Items))
	seen := make(map[string]struct{}, len(config.Items))
	var total int64
	for index, item := range config.Items {
		item.ItemType = strings.TrimSpace(item.ItemType)
		item.ItemKey = strings.TrimSpace(item.ItemKey)
		if item.ItemType == "" || item.ItemKey == "" {
			return nil, fmt.Errorf("%w: %s item %d missing type or key", ErrInvalidPool, name, index)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("%w: %s item %s/%s has negative weight", ErrInvalidPool, name, item.ItemType, item.ItemKey)
		}
		identity := item.ItemType + "/" + item.ItemKey
		if _, duplicate := seen[identity]; duplicate {
			return nil, fmt.Errorf("%w: %s lists %s twice", ErrInvalidPool, name, identity)
		}
		seen[identity] = struct{}{}
		total += item.Weight
		items = append(items, item)
		cumulative = append(cumulative, total)
	}
	return &Pool{
		name:        name,
		version:     strings.TrimSpace(config.Version),
		cost:        config.Cost,
		items:       items,
		cumulative:  cumulative,
		totalWeight: total,
	}, nil
}

// Name returns the pool name.
func (pool *Pool) Name() string { return pool.name }

// Version returns the configured pool version.
func (pool *Pool) Version() string { return pool.version }

// Cost returns the price of one draw.
func (pool *Pool) Cost() int64 { return pool.cost }

// TotalWeight returns the sum of all item weights.
func (pool *Pool) TotalWeight() int64 { return pool.totalWeight }

// Items returns a copy of the pool items in configuration order.
func (pool *Pool) Items() []Item {
	return append([]Item(nil), pool.items...)
}

// Drawable reports whether a draw from the pool can succeed.
func (pool *Pool) Drawable() bool {
	return pool != nil && len(pool.items) > 0 && pool.totalWeight > 0
}

// Select picks an item with probability weight/totalWeight. It reads one
// value in [0, totalWeight) from source and returns the first item whose
// cumulative weight exceeds it.
func (pool *Pool) Select(source RandomSource) (Prize, error) {
	if !pool.Drawable() {
		return Prize{}, fmt.Errorf("%w: %s", ErrPoolUnavailable, pool.describe())
	}
	value, err := source.Int63n(pool.totalWeight)
	if err != nil {
		return Prize{}, fmt.Errorf("draw: random source: %w", err)
	}
	if value < 0 || value >= pool.totalWeight {
		return Prize{}, fmt.Errorf("draw: random value %d outside [0,%d)", value, pool.totalWeight)
	}
	index := sort.Search(len(pool.cumulative), func(position int) bool {
		return pool.cumulative[position] > value
	})
	item := pool.items[index]
	return Prize{ItemType: item.ItemType, ItemKey: item.ItemKey, Rarity: item.Rarity}, nil
}

func (pool *Pool) describe() string {
	if pool == nil {
		return "missing pool"
	}
	if len(pool.items) == 0 {
		return pool.name + " has no items"
	}
	return pool.name + " has zero total weight"
}
