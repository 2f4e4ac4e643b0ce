package adaptive

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedCommand is returned by ParseCommand for strings that are not
// ADJUST commands.
var ErrMalformedCommand = errors.New("malformed adjust command")

const commandPrefix = "ADJUST"

// Outcome explains what an evaluation produced.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeCooldown  Outcome = "cooldown"
	OutcomeNoRule    Outcome = "no_rule"
	OutcomeDuplicate Outcome = "duplicate"
)

// Snapshot is one telemetry report as seen by the engine.
type Snapshot struct {
	Mode              string
	Phase             string
	Dir1              int
	Dir2              int
	Setpoints         ReportedSetpoints
	PedestrianCounter int64
	At                time.Time
}

// Decision is an applied adjustment returned to the caller.
type Decision struct {
	ID        uuid.UUID
	At        time.Time
	Rule      RuleName
	Setpoint  SetpointID
	Previous  int
	Value     int
	Command   string
	Rationale string
}

// Result is the detailed trace of one evaluation.
type Result struct {
	Outcome           Outcome
	Decision          Decision
	SuppressedCommand string
	PedestrianEdge    bool
	ImbalanceSampled  bool
}

// State is a point-in-time view of the engine for dashboards.
type State struct {
	Setpoints           Setpoints  `json:"setpoints"`
	PedestrianEvents    int        `json:"pedestrian_events"`
	PedestrianInWindow  int        `json:"pedestrian_in_window"`
	ImbalanceSamples    int        `json:"imbalance_samples"`
	AverageRatio        *float64   `json:"average_ratio,omitempty"`
	CooldownRemainingMs int64      `json:"cooldown_remaining_ms"`
	LastAppliedAt       *time.Time `json:"last_applied_at,omitempty"`
	LastCommand         string     `json:"last_command,omitempty"`
	Decisions           int        `json:"decisions"`
}

type Option func(*Engine)

// WithClock sets the clock used for snapshots without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithIDGenerator overrides decision record ID generation.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(e *Engine) {
		if fn != nil {
			e.idFn = fn
		}
	}
}

// WithInitialSetpoints seeds the setpoint store instead of the configured
// base values.
func WithInitialSetpoints(sp Setpoints) Option {
	return func(e *Engine) {
		e.setpoints = NewSetpointStore(sp)
	}
}

// Engine is the adaptive decision engine. One mutex covers a whole
// evaluation so trackers, cooldown and last command stay consistent.
type Engine struct {
	mu sync.Mutex

	cfg        Config
	setpoints  *SetpointStore
	pedestrian *PedestrianTracker
	imbalance  *ImbalanceTracker
	cooldown   *CooldownGate
	log        *DecisionLog
	rules      []Rule

	lastCommand string

	idFn  func() uuid.UUID
	nowFn func() time.Time
}

// New validates cfg and returns an engine with an unset cooldown and empty
// trackers.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e := &Engine{
		cfg: cfg,
		setpoints: NewSetpointStore(Setpoints{
			NormalGreen:   cfg.GreenBaseMs,
			Pedestrian:    cfg.PedestrianBaseMs,
			HeavyGreenMax: cfg.GreenBaseMs,
			HeavyGreenMin: cfg.GreenMinMs,
		}),
		pedestrian: NewPedestrianTracker(cfg.PedestrianHistory),
		imbalance:  NewImbalanceTracker(cfg.ImbalanceSampleCount),
		cooldown:   NewCooldownGate(cfg.CooldownDuration),
		log:        NewDecisionLog(cfg.DecisionHistory),
		rules:      defaultRules(),
		idFn:       uuid.New,
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Evaluate folds the snapshot into the trackers and returns a command when
// one survives the cooldown and duplicate gates.
func (e *Engine) Evaluate(s Snapshot) (Decision, bool) {
	res := e.Resolve(s)
	return res.Decision, res.Outcome == OutcomeApplied
}

// Resolve is Evaluate with the full trace.
func (e *Engine) Resolve(s Snapshot) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.At
	if now.IsZero() {
		now = e.nowFn()
	}

	var res Result
	e.setpoints.Update(s.Setpoints)
	res.PedestrianEdge = e.pedestrian.Observe(s.PedestrianCounter, now)
	res.ImbalanceSampled = e.imbalance.Observe(s.Dir1, s.Dir2, now)

	if !e.cooldown.Ready(now) {
		res.Outcome = OutcomeCooldown
		return res
	}

	adj, ok := e.propose(now)
	if !ok {
		res.Outcome = OutcomeNoRule
		return res
	}

	command := adj.Command()
	if command == e.lastCommand {
		res.Outcome = OutcomeDuplicate
		res.SuppressedCommand = command
		return res
	}

	e.lastCommand = command
	e.cooldown.Record(now)
	rec := DecisionRecord{
		ID:        e.idFn(),
		At:        now,
		Rule:      adj.Rule,
		Setpoint:  adj.Setpoint,
		Previous:  adj.Previous,
		Value:     adj.Value,
		Command:   command,
		Rationale: adj.Rationale,
	}
	e.log.Append(rec)

	res.Outcome = OutcomeApplied
	res.Decision = Decision{
		ID:        rec.ID,
		At:        now,
		Rule:      adj.Rule,
		Setpoint:  adj.Setpoint,
		Previous:  adj.Previous,
		Value:     adj.Value,
		Command:   command,
		Rationale: adj.Rationale,
	}
	return res
}

func (e *Engine) propose(now time.Time) (Adjustment, bool) {
	in := ruleInput{
		cfg:        e.cfg,
		setpoints:  e.setpoints.Current(),
		pedestrian: e.pedestrian,
		imbalance:  e.imbalance,
		now:        now,
	}
	for _, r := range e.rules {
		if adj, ok := r.Evaluate(in); ok {
			return adj, true
		}
	}
	return Adjustment{}, false
}

// State reports tracker sizes and gate status as of now.
func (e *Engine) State(now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		Setpoints:           e.setpoints.Current(),
		PedestrianEvents:    e.pedestrian.Len(),
		PedestrianInWindow:  e.pedestrian.CountWithin(e.cfg.PedestrianWindow, now),
		ImbalanceSamples:    e.imbalance.Len(),
		CooldownRemainingMs: e.cooldown.Remaining(now).Milliseconds(),
		LastCommand:         e.lastCommand,
		Decisions:           e.log.Len(),
	}
	if avg, ok := e.imbalance.AverageRatio(); ok {
		st.AverageRatio = &avg
	}
	if at, ok := e.cooldown.LastApplied(); ok {
		st.LastAppliedAt = &at
	}
	return st
}

// Decisions returns the decision log, oldest first.
func (e *Engine) Decisions() []DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Records()
}

func (e *Engine) PedestrianEvents() []PedestrianActivation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pedestrian.Events()
}

func (e *Engine) ImbalanceSamples() []ImbalanceSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.imbalance.Samples()
}

// FormatCommand renders ADJUST:<setpoint>:<ms>.
func FormatCommand(id SetpointID, valueMs int) string {
	return commandPrefix + ":" + string(id) + ":" + strconv.Itoa(valueMs)
}

// ParseCommand is the inverse of FormatCommand.
func ParseCommand(command string) (SetpointID, int, error) {
	parts := strings.Split(strings.TrimSpace(command), ":")
	if len(parts) != 3 || parts[0] != commandPrefix {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedCommand, command)
	}
	id := SetpointID(parts[1])
	if id != SetpointPedestrian && id != SetpointHeavyGreenMax {
		return "", 0, fmt.Errorf("%w: unknown setpoint %q", ErrMalformedCommand, parts[1])
	}
	value, err := strconv.Atoi(parts[2])
	if err != nil || value < 0 {
		return "", 0, fmt.Errorf("%w: value %q", ErrMalformedCommand, parts[2])
	}
	return id, value, nil
}
