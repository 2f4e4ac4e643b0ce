package adaptive

import (
	"time"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/ring"
)

// ImbalanceSample is the share of direction-1 traffic in one report.
type ImbalanceSample struct {
	At    time.Time `json:"at"`
	Ratio float64   `json:"ratio"`
	Dir1  int       `json:"dir1"`
	Dir2  int       `json:"dir2"`
}

// ImbalanceTracker keeps the most recent direction ratios.
type ImbalanceTracker struct {
	samples *ring.Buffer[ImbalanceSample]
}

func NewImbalanceTracker(capacity int) *ImbalanceTracker {
	return &ImbalanceTracker{samples: ring.New[ImbalanceSample](capacity)}
}

// Observe appends a sample unless both counts are zero; an empty road says
// nothing about balance.
func (t *ImbalanceTracker) Observe(dir1, dir2 int, at time.Time) bool {
	if dir1 < 0 {
		dir1 = 0
	}
	if dir2 < 0 {
		dir2 = 0
	}
	total := dir1 + dir2
	if total == 0 {
		return false
	}
	t.samples.Push(ImbalanceSample{
		At:    at,
		Ratio: float64(dir1) / float64(total),
		Dir1:  dir1,
		Dir2:  dir2,
	})
	return true
}

// AverageRatio returns the mean ratio of retained samples. ok is false when
// no samples exist, which is distinct from a balanced 0.5.
func (t *ImbalanceTracker) AverageRatio() (avg float64, ok bool) {
	n := t.samples.Len()
	if n == 0 {
		return 0, false
	}
	sum := 0.0
	t.samples.Each(func(s ImbalanceSample) { sum += s.Ratio })
	return sum / float64(n), true
}

func (t *ImbalanceTracker) Len() int { return t.samples.Len() }

func (t *ImbalanceTracker) Samples() []ImbalanceSample { return t.samples.Items() }
