package adaptive

import "time"

// CooldownGate enforces a minimum interval between applied adjustments.
type CooldownGate struct {
	duration    time.Duration
	lastApplied time.Time
	set         bool
}

func NewCooldownGate(duration time.Duration) *CooldownGate {
	return &CooldownGate{duration: duration}
}

// Ready reports whether an adjustment may be applied at now without
// recording anything.
func (g *CooldownGate) Ready(now time.Time) bool {
	return !g.set || now.Sub(g.lastApplied) >= g.duration
}

// Record marks now as the last applied adjustment.
func (g *CooldownGate) Record(now time.Time) {
	g.lastApplied = now
	g.set = true
}

// TryConsume records now and returns true when the gate is ready.
func (g *CooldownGate) TryConsume(now time.Time) bool {
	if !g.Ready(now) {
		return false
	}
	g.Record(now)
	return true
}

// Remaining returns how long until the gate opens, zero when ready.
func (g *CooldownGate) Remaining(now time.Time) time.Duration {
	if g.Ready(now) {
		return 0
	}
	return g.duration - now.Sub(g.lastApplied)
}

// LastApplied returns the last recorded time, if any.
func (g *CooldownGate) LastApplied() (time.Time, bool) {
	return g.lastApplied, g.set
}
