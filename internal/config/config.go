// Package config defines the tunable strategy/risk parameters for the
// trading engine and a hot-reloadable store that periodically re-reads
// them from a JSON file on disk (default: configs/config.json), plus the
// deployment parameters (EnvConfig) read from environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// defaultReloadInterval matches the 300s refresh window from the source config.
const defaultReloadInterval = 300 * time.Second

// Snapshot is the immutable set of tunable parameters read by every
// consumer. A Snapshot is never mutated in place; the Store swaps a new
// one in atomically.
type Snapshot struct {
	PriceDistanceThreshold  float64 `mapstructure:"price_distance_threshold"`
	OrderSizeThreshold      float64 `mapstructure:"order_size_threshold"`
	SpreadThreshold         float64 `mapstructure:"spread_threshold"`
	ImbalanceThreshold      float64 `mapstructure:"imbalance_threshold"`
	MinSignalsForBuyAction  int     `mapstructure:"min_signals_for_buy_action"`
	MinSignalsForSellAction int     `mapstructure:"min_signals_for_sell_action"`
	TakeProfitMultiplier    float64 `mapstructure:"take_profit_multiplier"`
	TakeProfitSensitivity   float64 `mapstructure:"take_profit_sensitivity"`
	StopLossPercentage      float64 `mapstructure:"stop_loss_percentage"`
	StopLossOffset          float64 `mapstructure:"stop_loss_offset"`
	MovingAverageSensitivity float64 `mapstructure:"moving_average_sensitivity"`
	OrderPriceMultiplier    float64 `mapstructure:"order_price_multiplier"`
	Strategy                string  `mapstructure:"strategy"` // "moving_average" | "order_imbalance"
	OrderType               string  `mapstructure:"order_type"` // "market" | "limit"
	MinConfidenceForAction  float64 `mapstructure:"min_confidence_for_action"`
}

// Default returns the parameter defaults listed in the configuration
// reference table.
func Default() Snapshot {
	return Snapshot{
		PriceDistanceThreshold:   10000,
		OrderSizeThreshold:       0.95,
		SpreadThreshold:          0.02,
		ImbalanceThreshold:       0.3,
		MinSignalsForBuyAction:   5,
		MinSignalsForSellAction:  3,
		TakeProfitMultiplier:     1.0,
		TakeProfitSensitivity:    0.5,
		StopLossPercentage:       0.01,
		StopLossOffset:           0.01,
		MovingAverageSensitivity: 5000,
		OrderPriceMultiplier:     1,
		Strategy:                 "moving_average",
		OrderType:                "limit",
		MinConfidenceForAction:   0.5,
	}
}

// Store holds the current Snapshot and periodically re-reads it from path.
// Readers obtain a cloned copy under a mutex; outside of TestSetSnapshot,
// writes only happen on the reload goroutine.
type Store struct {
	mu       sync.RWMutex
	current  Snapshot
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// NewStore constructs a Store seeded with an initial read of path. If the
// initial read fails, the Store falls back to Default() so the engine can
// still start.
func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{
		current:  Default(),
		path:     path,
		interval: defaultReloadInterval,
		logger:   logger,
	}
	if snap, err := load(path); err == nil {
		s.current = snap
	} else {
		logger.Warn("initial config load failed, using defaults", "path", path, "error", err)
	}
	return s
}

// WithInterval overrides the reload interval (default 300s). Intended for tests.
func (s *Store) WithInterval(d time.Duration) *Store {
	s.interval = d
	return s
}

// TestSetSnapshot overwrites the current snapshot directly, bypassing the
// file-backed reload path. Intended for tests that need specific parameter
// values without writing a config file to disk.
func (s *Store) TestSetSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
}

// Get returns a cloned copy of the current snapshot. Snapshot is a plain
// value type, so the copy returned here can never alias internal state.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Run periodically re-reads the config file at s.interval until ctx is
// cancelled. A parse error is logged and leaves the current snapshot
// unchanged; a successful parse only replaces the snapshot if it differs
// from the one currently held.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reload()
		}
	}
}

func (s *Store) reload() {
	snap, err := load(s.path)
	if err != nil {
		s.logger.Warn("config reload failed, keeping previous snapshot", "path", s.path, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(snap, s.current) {
		return
	}
	s.current = snap
	s.logger.Info("config reloaded", "path", s.path)
}

func load(path string) (Snapshot, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	snap := Default()
	if err := v.ReadInConfig(); err != nil {
		return snap, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&snap); err != nil {
		return snap, fmt.Errorf("unmarshal config: %w", err)
	}
	return snap, nil
}

// EnvConfig holds the non-strategy deployment parameters sourced from
// environment variables rather than the hot-reloadable file.
type EnvConfig struct {
	Product          string
	ExportBucket     string
	CoinbaseAPIBase  string
	APIKeyPath       string
	SecretKeyPath    string
}

// LoadEnv reads the deployment environment variables listed in the
// external interfaces reference: PRODUCT, EXPORT_BUCKET,
// COINBASE_API_BASE_URL, API_KEY_PATH, SECRET_KEY_PATH.
func LoadEnv() EnvConfig {
	return EnvConfig{
		Product:         strings.TrimSpace(os.Getenv("PRODUCT")),
		ExportBucket:    os.Getenv("EXPORT_BUCKET"),
		CoinbaseAPIBase: os.Getenv("COINBASE_API_BASE_URL"),
		APIKeyPath:      os.Getenv("API_KEY_PATH"),
		SecretKeyPath:   os.Getenv("SECRET_KEY_PATH"),
	}
}
