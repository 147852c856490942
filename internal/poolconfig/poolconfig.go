// Package poolconfig loads gacha pool definitions from a YAML or JSON file
// and keeps a draw.Registry in sync with it.
package poolconfig

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrEmptyPath is returned when no pool file is configured.
var ErrEmptyPath = errors.New("pool file path is empty")

// Item mirrors one prize entry in the pool file.
type Item struct {
	ItemType string `mapstructure:"item_type"`
	ItemKey  string `mapstructure:"item_key"`
	Rarity   string `mapstructure:"rarity"`
	Weight   int64  `mapstructure:"weight"`
}

// Pool mirrors one pool entry in the pool file.
type Pool struct {
	Version string `mapstructure:"version"`
	Cost    int64  `mapstructure:"cost"`
	Items   []Item `mapstructure:"items"`
}

// File is the decoded pool file:
//
//	default_pool: standard
//	pools:
//	  standard:
//	    version: "2026-10"
//	    cost: 100
//	    items:
//	      - {item_type: badge, item_key: sakura, rarity: rare, weight: 1}
type File struct {
	DefaultPool string          `mapstructure:"default_pool"`
	Pools       map[string]Pool `mapstructure:"pools"`
}

// Configs converts the file into draw pool configs sorted by name.
func (file File) Configs() []draw.PoolConfig {
	names := make([]string, 0, len(file.Pools))
	for name := range file.Pools {
		names = append(names, name)
	}
	sort.Strings(names)
	configs := make([]draw.PoolConfig, 0, len(names))
	for _, name := range names {
		pool := file.Pools[name]
		items := make([]draw.Item, 0, len(pool.Items))
		for _, item := range pool.Items {
			items = append(items, draw.Item{ItemType: item.ItemType, ItemKey: item.ItemKey, Rarity: item.Rarity, Weight: item.Weight})
		}
		configs = append(configs, draw.PoolConfig{Name: name, Version: pool.Version, Cost: pool.Cost, Items: items})
	}
	return configs
}

// Snapshot compiles the file. A default pool that is not defined is rejected.
func (file File) Snapshot() (*draw.Snapshot, error) {
	defaultPool := strings.TrimSpace(file.DefaultPool)
	if defaultPool != "" {
		if _, ok := file.Pools[strings.ToLower(defaultPool)]; !ok {
			return nil, fmt.Errorf("%w: default pool %q is not defined", draw.ErrInvalidPool, defaultPool)
		}
	}
	return draw.NewSnapshot(file.Configs(), defaultPool)
}

// Load reads and compiles a pool file.
func Load(path string) (*draw.Snapshot, error) {
	reader, err := newReader(path)
	if err != nil {
		return nil, err
	}
	if err := reader.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read pool file: %w", err)
	}
	return decode(reader)
}

// Watcher reloads a registry whenever its pool file changes. A file that
// fails to compile is logged and ignored; the previous snapshot stays live.
type Watcher struct {
	reader   *viper.Viper
	registry *draw.Registry
	logger   *zap.Logger
	onReload func(*draw.Snapshot, error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadHook is called after every reload attempt.
func WithReloadHook(hook func(*draw.Snapshot, error)) WatcherOption {
	return func(watcher *Watcher) {
		watcher.onReload = hook
	}
}

// NewWatcher loads path into registry. Call Start to follow later edits.
func NewWatcher(path string, registry *draw.Registry, logger *zap.Logger, options ...WatcherOption) (*Watcher, error) {
	if registry == nil {
		return nil, errors.New("pool registry is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reader, err := newReader(path)
	if err != nil {
		return nil, err
	}
	if err := reader.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read pool file: %w", err)
	}
	snapshot, err := decode(reader)
	if err != nil {
		return nil, err
	}
	registry.Replace(snapshot)
	watcher := &Watcher{reader: reader, registry: registry, logger: logger}
	for _, option := range options {
		if option != nil {
			option(watcher)
		}
	}
	return watcher, nil
}

// Start begins watching the file for changes.
func (watcher *Watcher) Start() {
	watcher.reader.OnConfigChange(func(event fsnotify.Event) {
		watcher.reload(event.Name)
	})
	watcher.reader.WatchConfig()
}

func (watcher *Watcher) reload(source string) {
	snapshot, err := decode(watcher.reader)
	if err != nil {
		watcher.logger.Error("pool reload rejected", zap.String("file", source), zap.Error(err))
	} else {
		watcher.registry.Replace(snapshot)
		watcher.logger.Info("pools reloaded", zap.String("file", source), zap.Strings("pools", snapshot.Names()))
	}
	if watcher.onReload != nil {
		watcher.onReload(snapshot, err)
	}
}

func newReader(path string) (*viper.Viper, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrEmptyPath
	}
	reader := viper.New()
	reader.SetConfigFile(trimmed)
	return reader, nil
}

func decode(reader *viper.Viper) (*draw.Snapshot, error) {
	var file File
	if err := reader.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode pool file: %w", err)
	}
	return file.Snapshot()
}
