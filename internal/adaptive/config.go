package adaptive

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is returned by New and Config.Validate when bounds or
// thresholds are inconsistent.
var ErrInvalidConfig = errors.New("invalid adaptive config")

const (
	DefaultAdjustmentPercentage    = 0.15
	DefaultPedestrianWindow        = 30 * time.Minute
	DefaultPedestrianHighThreshold = 3
	DefaultPedestrianLowThreshold  = 1
	DefaultPedestrianMinMs         = 10000
	DefaultPedestrianMaxMs         = 25000
	DefaultPedestrianBaseMs        = 15000
	DefaultImbalanceSampleCount    = 10
	DefaultImbalanceHighThreshold  = 0.70
	DefaultImbalanceLowThreshold   = 0.55
	DefaultGreenMinMs              = 10000
	DefaultGreenMaxMs              = 22000
	DefaultGreenBaseMs             = 15000
	DefaultCooldownDuration        = 60 * time.Second
	DefaultPedestrianHistory       = 50
	DefaultDecisionHistory         = 20
)

// Config is the engine tuning bundle. It is copied into the engine at
// construction and never mutated afterwards.
type Config struct {
	AdjustmentPercentage float64

	PedestrianWindow        time.Duration
	PedestrianHighThreshold int
	PedestrianLowThreshold  int
	PedestrianMinMs         int
	PedestrianMaxMs         int
	PedestrianBaseMs        int

	ImbalanceSampleCount   int
	ImbalanceHighThreshold float64
	ImbalanceLowThreshold  float64

	GreenMinMs  int
	GreenMaxMs  int
	GreenBaseMs int

	CooldownDuration time.Duration

	PedestrianHistory int
	DecisionHistory   int
}

func DefaultConfig() Config {
	return Config{
		AdjustmentPercentage:    DefaultAdjustmentPercentage,
		PedestrianWindow:        DefaultPedestrianWindow,
		PedestrianHighThreshold: DefaultPedestrianHighThreshold,
		PedestrianLowThreshold:  DefaultPedestrianLowThreshold,
		PedestrianMinMs:         DefaultPedestrianMinMs,
		PedestrianMaxMs:         DefaultPedestrianMaxMs,
		PedestrianBaseMs:        DefaultPedestrianBaseMs,
		ImbalanceSampleCount:    DefaultImbalanceSampleCount,
		ImbalanceHighThreshold:  DefaultImbalanceHighThreshold,
		ImbalanceLowThreshold:   DefaultImbalanceLowThreshold,
		GreenMinMs:              DefaultGreenMinMs,
		GreenMaxMs:              DefaultGreenMaxMs,
		GreenBaseMs:             DefaultGreenBaseMs,
		CooldownDuration:        DefaultCooldownDuration,
		PedestrianHistory:       DefaultPedestrianHistory,
		DecisionHistory:         DefaultDecisionHistory,
	}
}

// Validate reports every violated invariant at once. The returned error wraps
// ErrInvalidConfig.
func (c Config) Validate() error {
	failures := make([]string, 0)

	if c.AdjustmentPercentage <= 0 || c.AdjustmentPercentage > 1 {
		failures = append(failures, fmt.Sprintf("adjustment_percentage %.4f must be in (0,1]", c.AdjustmentPercentage))
	}

	if c.PedestrianWindow <= 0 {
		failures = append(failures, "pedestrian_window must be > 0")
	}
	if c.PedestrianLowThreshold < 0 || c.PedestrianHighThreshold < 0 {
		failures = append(failures, "pedestrian thresholds must be >= 0")
	}
	if c.PedestrianLowThreshold > c.PedestrianHighThreshold {
		failures = append(failures, fmt.Sprintf("pedestrian_low_threshold %d exceeds pedestrian_high_threshold %d", c.PedestrianLowThreshold, c.PedestrianHighThreshold))
	}
	failures = appendBoundFailures(failures, "pedestrian", c.PedestrianMinMs, c.PedestrianMaxMs, c.PedestrianBaseMs)

	if c.ImbalanceSampleCount <= 0 {
		failures = append(failures, "imbalance_sample_count must be > 0")
	}
	if c.ImbalanceHighThreshold <= 0 || c.ImbalanceHighThreshold > 1 {
		failures = append(failures, fmt.Sprintf("imbalance_high_threshold %.4f must be in (0,1]", c.ImbalanceHighThreshold))
	}
	if c.ImbalanceLowThreshold <= 0 || c.ImbalanceLowThreshold > 1 {
		failures = append(failures, fmt.Sprintf("imbalance_low_threshold %.4f must be in (0,1]", c.ImbalanceLowThreshold))
	}
	if c.ImbalanceLowThreshold < 0.5 {
		failures = append(failures, fmt.Sprintf("imbalance_low_threshold %.4f must be >= 0.5", c.ImbalanceLowThreshold))
	}
	if c.ImbalanceHighThreshold < c.ImbalanceLowThreshold {
		failures = append(failures, fmt.Sprintf("imbalance_high_threshold %.4f is below imbalance_low_threshold %.4f", c.ImbalanceHighThreshold, c.ImbalanceLowThreshold))
	}
	failures = appendBoundFailures(failures, "green", c.GreenMinMs, c.GreenMaxMs, c.GreenBaseMs)

	if c.CooldownDuration <= 0 {
		failures = append(failures, "cooldown_duration must be > 0")
	}
	if c.PedestrianHistory <= 0 {
		failures = append(failures, "pedestrian_history must be > 0")
	}
	if c.DecisionHistory <= 0 {
		failures = append(failures, "decision_history must be > 0")
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(failures, "; "))
	}
	return nil
}

func appendBoundFailures(failures []string, name string, minMs, maxMs, baseMs int) []string {
	if minMs < 0 {
		failures = append(failures, fmt.Sprintf("%s_min %d must be >= 0", name, minMs))
	}
	if maxMs < minMs {
		failures = append(failures, fmt.Sprintf("%s_max %d is below %s_min %d", name, maxMs, name, minMs))
		return failures
	}
	if baseMs < minMs || baseMs > maxMs {
		failures = append(failures, fmt.Sprintf("%s_base %d must be within [%d, %d]", name, baseMs, minMs, maxMs))
	}
	return failures
}
