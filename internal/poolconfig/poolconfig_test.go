package poolconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"go.uber.org/zap"
)

const validPools = `
default_pool: Standard
pools:
  standard:
    version: "2026-10"
    cost: 100
    items:
      - {item_type: badge, item_key: sakura, rarity: rare, weight: 1}
      - {item_type: frame, item_key: gold, rarity: common, weight: 3}
  circle_standard:
    version: "2026-10"
    cost: 50
    items:
      - {item_type: stamp, item_key: wave, rarity: common, weight: 1}
  retired:
    cost: 10
    items:
      - {item_type: badge, item_key: old, rarity: common, weight: 0}
`

func writePoolFile(test *testing.T, directory string, contents string) string {
	test.Helper()
	path := filepath.Join(directory, "pools.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		test.Fatalf("write pool file: %v", err)
	}
	return path
}

func TestLoadCompilesPools(test *testing.T) {
	test.Parallel()
	snapshot, err := Load(writePoolFile(test, test.TempDir(), validPools))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	names := snapshot.Names()
	if len(names) != 3 || names[0] != "circle_standard" || names[2] != "standard" {
		test.Fatalf("unexpected pools %v", names)
	}
	pool, err := snapshot.Lookup("")
	if err != nil {
		test.Fatalf("default pool: %v", err)
	}
	if pool.Name() != "standard" || pool.Cost() != 100 || pool.TotalWeight() != 4 || pool.Version() != "2026-10" {
		test.Fatalf("unexpected default pool %s cost=%d weight=%d", pool.Name(), pool.Cost(), pool.TotalWeight())
	}
	if _, err := snapshot.Lookup("retired"); !errors.Is(err, draw.ErrPoolUnavailable) {
		test.Fatalf("expected zero-weight pool to be unavailable, got %v", err)
	}
}

func TestLoadRejectsInvalidFiles(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		contents string
	}{
		{name: "negative weight", contents: "pools:\n  bad:\n    cost: 10\n    items:\n      - {item_type: a, item_key: b, weight: -1}\n"},
		{name: "duplicate item", contents: "pools:\n  bad:\n    cost: 10\n    items:\n      - {item_type: a, item_key: b, weight: 1}\n      - {item_type: a, item_key: b, weight: 2}\n"},
		{name: "zero cost", contents: "pools:\n  bad:\n    cost: 0\n    items:\n      - {item_type: a, item_key: b, weight: 1}\n"},
		{name: "undefined default", contents: "default_pool: missing\npools:\n  ok:\n    cost: 10\n    items:\n      - {item_type: a, item_key: b, weight: 1}\n"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := Load(writePoolFile(test, test.TempDir(), testCase.contents))
			if !errors.Is(err, draw.ErrInvalidPool) {
				test.Fatalf("expected ErrInvalidPool, got %v", err)
			}
		})
	}
}

func TestLoadRequiresPath(test *testing.T) {
	test.Parallel()
	if _, err := Load("  "); !errors.Is(err, ErrEmptyPath) {
		test.Fatalf("expected ErrEmptyPath, got %v", err)
	}
	if _, err := Load(filepath.Join(test.TempDir(), "absent.yaml")); err == nil {
		test.Fatalf("expected error for missing file")
	}
}

func TestWatcherReloadSwapsAndKeepsLastGood(test *testing.T) {
	test.Parallel()
	directory := test.TempDir()
	path := writePoolFile(test, directory, validPools)
	registry := draw.NewRegistry(nil)

	var reloads []error
	watcher, err := NewWatcher(path, registry, zap.NewNop(), WithReloadHook(func(_ *draw.Snapshot, err error) {
		reloads = append(reloads, err)
	}))
	if err != nil {
		test.Fatalf("watcher: %v", err)
	}
	initial := registry.Snapshot()
	if len(initial.Names()) != 3 {
		test.Fatalf("expected initial load, got %v", initial.Names())
	}

	writePoolFile(test, directory, "default_pool: standard\npools:\n  standard:\n    version: v2\n    cost: 120\n    items:\n      - {item_type: title, item_key: legend, rarity: ssr, weight: 1}\n")
	if err := watcher.reader.ReadInConfig(); err != nil {
		test.Fatalf("reread: %v", err)
	}
	watcher.reload(path)
	pool, err := registry.Snapshot().Lookup("standard")
	if err != nil || pool.Cost() != 120 || pool.Version() != "v2" {
		test.Fatalf("expected reloaded pool, got %v %v", pool, err)
	}
	if _, err := initial.Lookup("circle_standard"); err != nil {
		test.Fatalf("old snapshot must stay usable: %v", err)
	}

	writePoolFile(test, directory, "pools:\n  standard:\n    cost: -5\n    items: []\n")
	if err := watcher.reader.ReadInConfig(); err != nil {
		test.Fatalf("reread: %v", err)
	}
	watcher.reload(path)
	pool, err = registry.Snapshot().Lookup("standard")
	if err != nil || pool.Cost() != 120 {
		test.Fatalf("invalid reload must keep the last good snapshot, got %v %v", pool, err)
	}
	if len(reloads) != 2 || reloads[0] != nil || !errors.Is(reloads[1], draw.ErrInvalidPool) {
		test.Fatalf("unexpected reload outcomes %v", reloads)
	}
}
