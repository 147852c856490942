package draw

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Snapshot is an immutable set of compiled pools.
type Snapshot struct {
	pools       map[string]*Pool
	defaultPool string
}

// NewSnapshot compiles every pool config. A single invalid pool fails the whole set.
func NewSnapshot(configs []PoolConfig, defaultPool string) (*Snapshot, error) {
	pools := make(map[string]*Pool, len(configs))
	for _, config := range configs {
		pool, err := CompilePool(config)
		if err != nil {
			return nil, err
		}
		key := normalizePoolName(pool.Name())
		if _, exists := pools[key]; exists {
			return nil, fmt.Errorf("%w: pool %s defined twice", ErrInvalidPool, pool.Name())
		}
		pools[key] = pool
	}
	return &Snapshot{pools: pools, defaultPool: normalizePoolName(defaultPool)}, nil
}

// Lookup resolves a pool by name; an empty name resolves the default pool.
func (snapshot *Snapshot) Lookup(name string) (*Pool, error) {
	key := normalizePoolName(name)
	if key == "" {
		key = snapshot.defaultPool
	}
	pool, ok := snapshot.pools[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pool %q", ErrPoolUnavailable, name)
	}
	if !pool.Drawable() {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnavailable, pool.describe())
	}
	return pool, nil
}

// Pools lists every pool sorted by name, drawable or not.
func (snapshot *Snapshot) Pools() []*Pool {
	keys := make([]string, 0, len(snapshot.pools))
	for key := range snapshot.pools {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pools := make([]*Pool, 0, len(keys))
	for _, key := range keys {
		pools = append(pools, snapshot.pools[key])
	}
	return pools
}

// Names lists pool names in sorted order.
func (snapshot *Snapshot) Names() []string {
	names := make([]string, 0, len(snapshot.pools))
	for _, pool := range snapshot.pools {
		names = append(names, pool.Name())
	}
	sort.Strings(names)
	return names
}

// DefaultPool returns the pool used when a draw names none.
func (snapshot *Snapshot) DefaultPool() string {
	return snapshot.defaultPool
}

// Registry holds the current pool snapshot. Replace swaps it atomically;
// draws that already resolved a pool keep using it.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry returns a registry serving snapshot.
func NewRegistry(snapshot *Snapshot) *Registry {
	registry := &Registry{}
	if snapshot == nil {
		snapshot = &Snapshot{pools: map[string]*Pool{}}
	}
	registry.current.Store(snapshot)
	return registry
}

// Snapshot returns the pools currently served.
func (registry *Registry) Snapshot() *Snapshot {
	return registry.current.Load()
}

// Replace installs a new snapshot.
func (registry *Registry) Replace(snapshot *Snapshot) {
	if snapshot == nil {
		return
	}
	registry.current.Store(snapshot)
}

func normalizePoolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
