package adaptive

import (
	"fmt"
	"math"
	"time"
)

// RuleName tags the rule that proposed an adjustment.
type RuleName string

const (
	RulePedestrian RuleName = "pedestrian"
	RuleImbalance  RuleName = "imbalance"
)

// Adjustment is a proposed setpoint change.
type Adjustment struct {
	Rule      RuleName
	Setpoint  SetpointID
	Previous  int
	Value     int
	Rationale string
}

// Command renders the adjustment in device wire form.
func (a Adjustment) Command() string {
	return FormatCommand(a.Setpoint, a.Value)
}

type ruleInput struct {
	cfg        Config
	setpoints  Setpoints
	pedestrian *PedestrianTracker
	imbalance  *ImbalanceTracker
	now        time.Time
}

// Rule proposes at most one adjustment from the current tracker state.
type Rule interface {
	Name() RuleName
	Evaluate(in ruleInput) (Adjustment, bool)
}

// defaultRules is ordered by priority; the first proposal wins.
func defaultRules() []Rule {
	return []Rule{PedestrianRule{}, ImbalanceRule{}}
}

// PedestrianRule lengthens the pedestrian phase under frequent activations
// and shortens it when activations are rare.
type PedestrianRule struct{}

func (PedestrianRule) Name() RuleName { return RulePedestrian }

func (r PedestrianRule) Evaluate(in ruleInput) (Adjustment, bool) {
	cfg := in.cfg
	count := in.pedestrian.CountWithin(cfg.PedestrianWindow, in.now)
	current := in.setpoints.Pedestrian

	switch {
	case count >= cfg.PedestrianHighThreshold:
		next := scaleUp(current, cfg.AdjustmentPercentage, cfg.PedestrianMinMs, cfg.PedestrianMaxMs)
		if next == current {
			return Adjustment{}, false
		}
		return Adjustment{
			Rule:     RulePedestrian,
			Setpoint: SetpointPedestrian,
			Previous: current,
			Value:    next,
			Rationale: fmt.Sprintf(
				"%d pedestrian activations in the last %s (high threshold %d): raising pedestrian phase %d -> %d ms",
				count, cfg.PedestrianWindow, cfg.PedestrianHighThreshold, current, next,
			),
		}, true
	case count <= cfg.PedestrianLowThreshold:
		next := scaleDown(current, cfg.AdjustmentPercentage, cfg.PedestrianMinMs, cfg.PedestrianMaxMs)
		if next >= current {
			return Adjustment{}, false
		}
		return Adjustment{
			Rule:     RulePedestrian,
			Setpoint: SetpointPedestrian,
			Previous: current,
			Value:    next,
			Rationale: fmt.Sprintf(
				"%d pedestrian activations in the last %s (low threshold %d): shortening pedestrian phase %d -> %d ms",
				count, cfg.PedestrianWindow, cfg.PedestrianLowThreshold, current, next,
			),
		}, true
	default:
		return Adjustment{}, false
	}
}

// ImbalanceRule stretches the heavy-traffic green when one direction
// dominates and trims it when traffic is balanced.
type ImbalanceRule struct{}

func (ImbalanceRule) Name() RuleName { return RuleImbalance }

func (r ImbalanceRule) Evaluate(in ruleInput) (Adjustment, bool) {
	cfg := in.cfg
	if in.imbalance.Len() < cfg.ImbalanceSampleCount {
		return Adjustment{}, false
	}
	avg, ok := in.imbalance.AverageRatio()
	if !ok {
		return Adjustment{}, false
	}

	// Compare the dominant share so both directions use the same threshold.
	dominant := math.Max(avg, 1-avg)
	current := in.setpoints.HeavyGreenMax

	switch {
	case dominant > cfg.ImbalanceHighThreshold:
		next := scaleUp(current, cfg.AdjustmentPercentage, cfg.GreenMinMs, cfg.GreenMaxMs)
		if next == current {
			return Adjustment{}, false
		}
		return Adjustment{
			Rule:     RuleImbalance,
			Setpoint: SetpointHeavyGreenMax,
			Previous: current,
			Value:    next,
			Rationale: fmt.Sprintf(
				"mean direction ratio %.2f over %d samples exceeds imbalance threshold %.2f: raising heavy-traffic max green %d -> %d ms",
				avg, in.imbalance.Len(), cfg.ImbalanceHighThreshold, current, next,
			),
		}, true
	case dominant <= cfg.ImbalanceLowThreshold:
		next := scaleDown(current, cfg.AdjustmentPercentage, cfg.GreenMinMs, cfg.GreenMaxMs)
		if next >= current {
			return Adjustment{}, false
		}
		return Adjustment{
			Rule:     RuleImbalance,
			Setpoint: SetpointHeavyGreenMax,
			Previous: current,
			Value:    next,
			Rationale: fmt.Sprintf(
				"mean direction ratio %.2f over %d samples is balanced (band %.2f-%.2f): lowering heavy-traffic max green %d -> %d ms",
				avg, in.imbalance.Len(), 1-cfg.ImbalanceLowThreshold, cfg.ImbalanceLowThreshold, current, next,
			),
		}, true
	default:
		return Adjustment{}, false
	}
}

func scaleUp(current int, pct float64, minMs, maxMs int) int {
	return clampInt(int(math.Round(float64(current)*(1+pct))), minMs, maxMs)
}

func scaleDown(current int, pct float64, minMs, maxMs int) int {
	return clampInt(int(math.Round(float64(current)*(1-pct))), minMs, maxMs)
}

func clampInt(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
