package gacha

import (
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
)

const (
	defaultDailyLoginPoints       = 3
	defaultAwardSharePoints       = 5
	defaultCircleDailyLoginPoints = 3
	defaultDrawMaxAttempts        = 10
	defaultDrawWindow             = time.Minute
	defaultEarnMaxAttempts        = 30
	defaultEarnWindow             = time.Minute
	defaultTimezone               = "Asia/Tokyo"
	defaultHistoryLimit           = 50
	maxHistoryLimit               = 200
)

// Limit bounds attempts per window.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// Config holds the tunables of the orchestrator.
type Config struct {
	// EarnAmounts maps each earnable reason to its credit.
	EarnAmounts map[ledger.Reason]int64
	// DefaultCirclePool is used by circle draws that name no pool. Personal
	// draws fall back to the registry's default pool.
	DefaultCirclePool string
	DrawLimit         Limit
	EarnLimit         Limit
	// Location decides the calendar date of daily idempotency keys.
	Location *time.Location
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	location, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		location = time.FixedZone(defaultTimezone, 9*60*60)
	}
	return Config{
		EarnAmounts: map[ledger.Reason]int64{
			ledger.ReasonDailyLogin:       defaultDailyLoginPoints,
			ledger.ReasonAwardShare:       defaultAwardSharePoints,
			ledger.ReasonCircleDailyLogin: defaultCircleDailyLoginPoints,
		},
		DrawLimit: Limit{MaxAttempts: defaultDrawMaxAttempts, Window: defaultDrawWindow},
		EarnLimit: Limit{MaxAttempts: defaultEarnMaxAttempts, Window: defaultEarnWindow},
		Location:  location,
	}
}

func (config Config) validate() error {
	if config.Location == nil {
		return fmt.Errorf("%w: location is nil", ErrInvalidServiceConfig)
	}
	for reason, amount := range config.EarnAmounts {
		if amount <= 0 {
			return fmt.Errorf("%w: earn amount for %s must be positive", ErrInvalidServiceConfig, reason)
		}
		if !isEarnReason(reason) {
			return fmt.Errorf("%w: %s is not an earn reason", ErrInvalidServiceConfig, reason)
		}
	}
	for name, limit := range map[string]Limit{"draw": config.DrawLimit, "earn": config.EarnLimit} {
		if limit.MaxAttempts <= 0 || limit.Window <= 0 {
			return fmt.Errorf("%w: %s limit must be positive", ErrInvalidServiceConfig, name)
		}
	}
	return nil
}

func isEarnReason(reason ledger.Reason) bool {
	return reason == ledger.ReasonDailyLogin || reason == ledger.ReasonAwardShare || reason == ledger.ReasonCircleDailyLogin
}
