package adaptive

import (
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/ring"
)

// DecisionRecord is an applied adjustment kept for display and audit.
type DecisionRecord struct {
	ID        uuid.UUID  `json:"id"`
	At        time.Time  `json:"at"`
	Rule      RuleName   `json:"rule"`
	Setpoint  SetpointID `json:"setpoint"`
	Previous  int        `json:"previous_ms"`
	Value     int        `json:"value_ms"`
	Command   string     `json:"command"`
	Rationale string     `json:"rationale"`
}

// DecisionLog is write-only from the engine's point of view.
type DecisionLog struct {
	records *ring.Buffer[DecisionRecord]
}

func NewDecisionLog(capacity int) *DecisionLog {
	return &DecisionLog{records: ring.New[DecisionRecord](capacity)}
}

func (l *DecisionLog) Append(rec DecisionRecord) {
	l.records.Push(rec)
}

// Records returns a copy, oldest first.
func (l *DecisionLog) Records() []DecisionRecord {
	return l.records.Items()
}

func (l *DecisionLog) Len() int { return l.records.Len() }
