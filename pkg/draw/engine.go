package draw

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRandomSource replaces the crypto/rand source, typically with a
// deterministic sequence in tests.
func WithRandomSource(source RandomSource) EngineOption {
	return func(engine *Engine) {
		if source != nil {
			engine.source = source
		}
	}
}

// Engine selects prizes from the registry's pools. It never touches
// balances or inventory.
type Engine struct {
	registry *Registry
	source   RandomSource
}

// NewEngine builds an Engine over registry.
func NewEngine(registry *Registry, options ...EngineOption) *Engine {
	engine := &Engine{registry: registry, source: CryptoSource{}}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine
}

// Pool resolves a drawable pool from the current snapshot.
func (engine *Engine) Pool(name string) (*Pool, error) {
	return engine.registry.Snapshot().Lookup(name)
}

// Select draws from an already resolved pool.
func (engine *Engine) Select(pool *Pool) (Prize, error) {
	return pool.Select(engine.source)
}

// Draw resolves a pool and selects a prize from it.
func (engine *Engine) Draw(poolName string) (Prize, error) {
	pool, err := engine.Pool(poolName)
	if err != nil {
		return Prize{}, err
	}
	return engine.Select(pool)
}
