// Package circuitbreaker guards persistence sinks so a dead database or
// broker does not stall the recorder with retries.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a breaker. Zero values take the defaults noted below.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening (5)
	SuccessThreshold int           // half-open successes before closing (2)
	OpenTimeout      time.Duration // time spent open before probing (30s)
	OnStateChange    func(name string, from, to State)
	// IsFailure decides whether an error returned through Execute counts
	// against the sink. Errors it rejects are recorded as successes: the
	// sink answered. Nil counts every error except context cancellation.
	IsFailure func(error) bool
}

type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	onStateChange    func(name string, from, to State)
	isFailure        func(error) bool
	nowFunc          func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Breaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		onStateChange:    cfg.OnStateChange,
		isFailure:        cfg.IsFailure,
		nowFunc:          time.Now,
		state:            StateClosed,
	}
}

func (b *Breaker) Name() string { return b.name }

// Execute runs fn when the breaker allows it and records the result.
// Context cancellation is not counted as a sink failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case errors.Is(err, context.Canceled):
	case b.isFailure != nil && !b.isFailure(err):
		b.RecordSuccess()
	default:
		b.RecordFailure()
	}
	return err
}

// Allow returns ErrCircuitOpen while open. After OpenTimeout the breaker
// moves to half-open and lets calls through as probes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	if b.state == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	if b.state != StateHalfOpen {
		return
	}
	b.successCount++
	if b.successCount >= b.successThreshold {
		b.transition(StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.open()
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) open() {
	b.openedAt = b.nowFunc()
	b.transition(StateOpen)
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.openTimeout {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successCount = 0
	if to == StateClosed {
		b.failureCount = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
