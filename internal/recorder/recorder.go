// Package recorder persists telemetry and decisions off the request path.
// Records are queued on a bounded channel and written to every configured
// sink; a full queue drops the record instead of blocking ingestion.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/circuitbreaker"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/metrics"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/retry"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store"
)

const (
	KindTelemetry = "telemetry"
	KindDecision  = "decision"

	defaultBufferSize = 256
	drainTimeout      = 5 * time.Second
)

// Sink is a named persistence target. Either side may be nil.
type Sink struct {
	Name      string
	Telemetry store.TelemetrySink
	Decisions store.DecisionSink
}

type Config struct {
	BufferSize int
	Retry      retry.Policy
	Breaker    circuitbreaker.Config
}

type Option func(*Recorder)

// WithBreakerListener is called on every sink breaker transition.
func WithBreakerListener(fn func(sink string, from, to circuitbreaker.State)) Option {
	return func(r *Recorder) {
		r.onBreakerChange = fn
	}
}

type record struct {
	kind      string
	telemetry *model.TelemetryRecord
	decision  *model.DecisionRecord
}

type sinkRuntime struct {
	Sink
	breaker *circuitbreaker.Breaker
}

type Recorder struct {
	queue  chan record
	sinks  []sinkRuntime
	policy retry.Policy
	logger *slog.Logger

	onBreakerChange func(sink string, from, to circuitbreaker.State)
}

func New(cfg Config, logger *slog.Logger, sinks []Sink, opts ...Option) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	r := &Recorder{
		queue:  make(chan record, cfg.BufferSize),
		policy: cfg.Retry,
		logger: logger.With("component", "recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, s := range sinks {
		bcfg := cfg.Breaker
		bcfg.Name = s.Name
		bcfg.OnStateChange = r.breakerChanged
		bcfg.IsFailure = countsAgainstSink
		r.sinks = append(r.sinks, sinkRuntime{Sink: s, breaker: circuitbreaker.New(bcfg)})
		metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(float64(circuitbreaker.StateClosed))
	}
	return r
}

func (r *Recorder) breakerChanged(name string, from, to circuitbreaker.State) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	r.logger.Warn("sink circuit breaker transition", "sink", name, "from", from.String(), "to", to.String())
	if r.onBreakerChange != nil {
		r.onBreakerChange(name, from, to)
	}
}

// Enabled reports whether any sink is configured.
func (r *Recorder) Enabled() bool {
	return r != nil && len(r.sinks) > 0
}

// RecordTelemetry queues rec without blocking. It returns false when the
// record was dropped.
func (r *Recorder) RecordTelemetry(rec model.TelemetryRecord) bool {
	return r.enqueue(record{kind: KindTelemetry, telemetry: &rec})
}

// RecordDecision queues rec without blocking. It returns false when the
// record was dropped.
func (r *Recorder) RecordDecision(rec model.DecisionRecord) bool {
	return r.enqueue(record{kind: KindDecision, decision: &rec})
}

func (r *Recorder) enqueue(rec record) bool {
	if !r.Enabled() {
		return false
	}
	select {
	case r.queue <- rec:
		metrics.RecorderQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		metrics.RecorderDroppedTotal.WithLabelValues(rec.kind).Inc()
		r.logger.Warn("recorder queue full, dropping record", "kind", rec.kind)
		return false
	}
}

// Run writes queued records until ctx is cancelled, then drains what is
// left with a short deadline.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.Enabled() {
		<-ctx.Done()
		return nil
	}
	r.logger.Info("recorder started", "sinks", len(r.sinks), "buffer", cap(r.queue))

	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			r.logger.Info("recorder stopped")
			return nil
		case rec := <-r.queue:
			metrics.RecorderQueueDepth.Set(float64(len(r.queue)))
			r.write(ctx, rec)
		}
	}
}

func (r *Recorder) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, drainTimeout)
	defer cancel()
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		default:
			metrics.RecorderQueueDepth.Set(0)
			return
		}
	}
}

// write fans rec out to every sink. One failing sink never blocks the
// others.
func (r *Recorder) write(ctx context.Context, rec record) {
	var g errgroup.Group
	for i := range r.sinks {
		s := &r.sinks[i]
		fn := s.writer(rec)
		if fn == nil {
			continue
		}
		g.Go(func() error {
			started := time.Now()
			err := s.breaker.Execute(ctx, func(ctx context.Context) error {
				return retry.Do(ctx, r.policy, fn)
			})
			metrics.RecorderWriteLatency.WithLabelValues(s.Name).Observe(time.Since(started).Seconds())

			switch {
			case err == nil:
				metrics.RecorderWritesTotal.WithLabelValues(s.Name, rec.kind, "ok").Inc()
			case errors.Is(err, circuitbreaker.ErrCircuitOpen):
				metrics.RecorderWritesTotal.WithLabelValues(s.Name, rec.kind, "skipped").Inc()
			case retry.IsDataError(err):
				metrics.RecorderWritesTotal.WithLabelValues(s.Name, rec.kind, "rejected").Inc()
				r.logger.Warn("sink rejected record",
					"sink", s.Name,
					"kind", rec.kind,
					"reason", retry.Classify(err).Reason,
					"error", err,
				)
			default:
				metrics.RecorderWritesTotal.WithLabelValues(s.Name, rec.kind, "error").Inc()
				r.logger.Error("sink write failed",
					"sink", s.Name,
					"kind", rec.kind,
					"reason", retry.Classify(err).Reason,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *sinkRuntime) writer(rec record) func(context.Context) error {
	switch rec.kind {
	case KindTelemetry:
		if s.Telemetry == nil {
			return nil
		}
		return func(ctx context.Context) error { return s.Telemetry.SaveTelemetry(ctx, rec.telemetry) }
	case KindDecision:
		if s.Decisions == nil {
			return nil
		}
		return func(ctx context.Context) error { return s.Decisions.SaveDecision(ctx, rec.decision) }
	default:
		return nil
	}
}

// SinkStates returns the breaker state of every sink, keyed by sink name.
func (r *Recorder) SinkStates() map[string]circuitbreaker.State {
	states := make(map[string]circuitbreaker.State, len(r.sinks))
	for i := range r.sinks {
		states[r.sinks[i].Name] = r.sinks[i].breaker.State()
	}
	return states
}

// countsAgainstSink keeps rejected records from tripping the breaker: a
// value too long for its column says nothing about the sink's health.
func countsAgainstSink(err error) bool {
	return !retry.IsDataError(err)
}
