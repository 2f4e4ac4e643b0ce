package adaptive

import (
	"time"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/ring"
)

// PedestrianActivation is one detected rise of the device's cumulative
// pedestrian counter.
type PedestrianActivation struct {
	At      time.Time `json:"at"`
	Counter int64     `json:"counter"`
}

// PedestrianTracker turns a cumulative counter into discrete activation
// events. Repeated reports of the same count are ignored.
type PedestrianTracker struct {
	events *ring.Buffer[PedestrianActivation]
}

func NewPedestrianTracker(capacity int) *PedestrianTracker {
	return &PedestrianTracker{events: ring.New[PedestrianActivation](capacity)}
}

// Observe records an activation when the counter rises above the last stored
// value. The first positive counter seen counts as an activation.
func (t *PedestrianTracker) Observe(counter int64, at time.Time) bool {
	last, ok := t.events.Last()
	if ok {
		if counter <= last.Counter {
			return false
		}
	} else if counter <= 0 {
		return false
	}
	t.events.Push(PedestrianActivation{At: at, Counter: counter})
	return true
}

// CountWithin counts retained events with now-At < window. Entries older than
// the window stay in the ring until evicted by capacity.
func (t *PedestrianTracker) CountWithin(window time.Duration, now time.Time) int {
	count := 0
	t.events.Each(func(ev PedestrianActivation) {
		if now.Sub(ev.At) < window {
			count++
		}
	})
	return count
}

func (t *PedestrianTracker) Len() int { return t.events.Len() }

func (t *PedestrianTracker) Events() []PedestrianActivation { return t.events.Items() }
