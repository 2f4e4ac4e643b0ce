// Package controller is the shell around the adaptive engine: it owns the
// automatic-mode toggle, the single pending-command slot delivered in the
// next telemetry response, the operator history and the persistence and
// alert fan-out.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/adaptive"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/alert"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/metrics"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/ring"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/tracing"
)

var ErrUnknownManualCommand = errors.New("unknown manual command")

const (
	DefaultHistorySize = 100
	DefaultHistoryView = 50

	alertTimeout = 10 * time.Second
)

// Recorder receives records for asynchronous persistence.
type Recorder interface {
	RecordTelemetry(rec model.TelemetryRecord) bool
	RecordDecision(rec model.DecisionRecord) bool
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

func WithAlerter(a alert.Alerter) Option {
	return func(c *Controller) {
		if a != nil {
			c.alerter = a
		}
	}
}

// WithClock sets the clock used to stamp telemetry and history lines.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.nowFn = now
		}
	}
}

func WithHistorySize(n int) Option {
	return func(c *Controller) {
		c.history = ring.New[string](n)
	}
}

func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(c *Controller) {
		if fn != nil {
			c.idFn = fn
		}
	}
}

// IngestResult is what the device receives back for one report.
type IngestResult struct {
	Timestamp     string
	Command       string
	CommandSource model.CommandSource
	Outcome       adaptive.Outcome
	Decision      *adaptive.Decision
}

// Overview is a consistent snapshot for the dashboard.
type Overview struct {
	DeviceID       string
	Automatic      bool
	Last           *model.Telemetry
	LastReceivedAt time.Time
	Pending        *model.PendingCommand
	History        []string
	Engine         adaptive.State
	Decisions      []adaptive.DecisionRecord
}

type Controller struct {
	mu sync.Mutex

	deviceID  string
	engine    *adaptive.Engine
	automatic bool

	pending        *model.PendingCommand
	last           *model.Telemetry
	lastReceivedAt time.Time
	history        *ring.Buffer[string]

	recorder Recorder
	alerter  alert.Alerter
	tracer   trace.Tracer
	logger   *slog.Logger
	nowFn    func() time.Time
	idFn     func() uuid.UUID
}

func New(deviceID string, engine *adaptive.Engine, automatic bool, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		deviceID:  deviceID,
		engine:    engine,
		automatic: automatic,
		history:   ring.New[string](DefaultHistorySize),
		recorder:  noopRecorder{},
		alerter:   &alert.NoopAlerter{},
		tracer:    tracing.Tracer("controller"),
		logger:    logger.With("component", "controller", "device", deviceID),
		nowFn:     time.Now,
		idFn:      uuid.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics.AutomaticModeEnabled.WithLabelValues(deviceID).Set(boolGauge(automatic))
	return c
}

func (c *Controller) DeviceID() string { return c.deviceID }

// Ingest stamps tel with the server clock, runs the engine when automatic
// mode is on and hands back the pending command, clearing the slot. A report
// with every field zero is still a report; rejecting empty bodies is the
// transport's job.
func (c *Controller) Ingest(ctx context.Context, tel model.Telemetry) (IngestResult, error) {
	ctx, span := c.tracer.Start(ctx, "controller.Ingest", trace.WithAttributes(
		attribute.String("device.id", c.deviceID),
		attribute.String("traffic.mode", tel.Mode.String()),
	))
	defer span.End()
	started := time.Now()

	c.mu.Lock()
	now := c.nowFn()
	ts := now.Format(model.TimestampLayout)
	tel.Timestamp = ts

	last := tel
	c.last = &last
	c.lastReceivedAt = now
	c.history.Push(fmt.Sprintf("[%s] Mode: %s | D1: %d | D2: %d | CO2: %d",
		ts, tel.Mode, tel.VehiclesDir1, tel.VehiclesDir2, tel.CO2))

	result := IngestResult{Timestamp: ts}
	var alerts []alert.Alert

	if c.automatic {
		res := c.evaluate(ctx, tel, now)
		result.Outcome = res.Outcome
		if res.Outcome == adaptive.OutcomeApplied {
			d := res.Decision
			result.Decision = &d
			c.queueLocked(d.Command, model.SourceAdaptive, now)
			c.history.Push(fmt.Sprintf("[%s] ADAPTIVE: %s (%s)", ts, d.Command, d.Rationale))
			c.recorder.RecordDecision(c.decisionRecord(d))
			alerts = append(alerts, c.adjustmentAlert(d))
		}
	}

	if c.pending != nil {
		result.Command = c.pending.Command
		result.CommandSource = c.pending.Source
		c.history.Push(fmt.Sprintf("[%s] COMMAND SENT: %s", ts, c.pending.Command))
		metrics.CommandsDeliveredTotal.WithLabelValues(c.deviceID, string(c.pending.Source)).Inc()
		c.pending = nil
	}

	c.recorder.RecordTelemetry(model.TelemetryRecord{
		ID:               c.idFn(),
		DeviceID:         c.deviceID,
		ReceivedAt:       now,
		Telemetry:        tel,
		DeliveredCommand: result.Command,
	})
	c.mu.Unlock()

	metrics.TelemetryReceivedTotal.WithLabelValues(c.deviceID, tel.Mode.String()).Inc()
	metrics.VehiclesObserved.WithLabelValues(c.deviceID, "dir1").Set(float64(tel.VehiclesDir1))
	metrics.VehiclesObserved.WithLabelValues(c.deviceID, "dir2").Set(float64(tel.VehiclesDir2))
	metrics.TelemetryIngestLatency.WithLabelValues(c.deviceID).Observe(time.Since(started).Seconds())

	if result.Command != "" {
		span.SetAttributes(attribute.String("traffic.command", result.Command))
		c.logger.Info("command delivered", "command", result.Command, "source", result.CommandSource)
	}
	c.sendAlerts(ctx, alerts...)
	return result, nil
}

// evaluate must be called with c.mu held.
func (c *Controller) evaluate(ctx context.Context, tel model.Telemetry, now time.Time) adaptive.Result {
	_, span := c.tracer.Start(ctx, "adaptive.Evaluate")
	defer span.End()

	res := c.engine.Resolve(toSnapshot(tel, now))
	span.SetAttributes(
		attribute.String("adaptive.outcome", string(res.Outcome)),
		attribute.Bool("adaptive.pedestrian_edge", res.PedestrianEdge),
		attribute.Bool("adaptive.imbalance_sampled", res.ImbalanceSampled),
	)
	metrics.EngineEvaluationsTotal.WithLabelValues(c.deviceID, string(res.Outcome)).Inc()

	st := c.engine.State(now)
	metrics.EnginePedestrianActivations.WithLabelValues(c.deviceID).Set(float64(st.PedestrianInWindow))
	if st.AverageRatio != nil {
		metrics.EngineImbalanceRatio.WithLabelValues(c.deviceID).Set(*st.AverageRatio)
	}

	switch res.Outcome {
	case adaptive.OutcomeApplied:
		d := res.Decision
		span.SetAttributes(attribute.String("adaptive.command", d.Command))
		metrics.EngineAdjustmentsTotal.WithLabelValues(c.deviceID, string(d.Rule), string(d.Setpoint)).Inc()
		metrics.EngineSetpointMs.WithLabelValues(c.deviceID, string(d.Setpoint)).Set(float64(d.Value))
		c.logger.Info("adaptive adjustment applied",
			"command", d.Command,
			"rule", d.Rule,
			"previous_ms", d.Previous,
			"value_ms", d.Value,
			"rationale", d.Rationale,
		)
	case adaptive.OutcomeDuplicate:
		c.logger.Debug("adaptive command suppressed as duplicate", "command", res.SuppressedCommand)
	}
	return res
}

// QueueManual places an operator command in the pending slot, replacing
// whatever was there.
func (c *Controller) QueueManual(ctx context.Context, cmd string) error {
	mc := model.ManualCommand(cmd)
	if !mc.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownManualCommand, cmd)
	}

	c.mu.Lock()
	now := c.nowFn()
	c.queueLocked(string(mc), model.SourceManual, now)
	c.history.Push(fmt.Sprintf("[%s] COMMAND QUEUED: %s", now.Format(model.TimestampLayout), mc))
	c.mu.Unlock()

	c.logger.Info("manual command queued", "command", mc)
	c.sendAlerts(ctx, alert.Alert{
		Type:    alert.AlertTypeManualCommand,
		Device:  c.deviceID,
		Key:     string(mc),
		Title:   "Manual command queued",
		Message: fmt.Sprintf("Operator requested %s", mc),
	})
	return nil
}

func (c *Controller) queueLocked(cmd string, source model.CommandSource, now time.Time) {
	if c.pending != nil {
		metrics.CommandsOverwrittenTotal.WithLabelValues(c.deviceID).Inc()
		c.logger.Info("pending command replaced", "previous", c.pending.Command, "command", cmd, "source", source)
	}
	c.pending = &model.PendingCommand{Command: cmd, Source: source, QueuedAt: now}
	metrics.CommandsQueuedTotal.WithLabelValues(c.deviceID, string(source)).Inc()
}

// SetAutomatic toggles automatic evaluation. Engine history is kept across
// toggles. It reports whether the state changed.
func (c *Controller) SetAutomatic(ctx context.Context, enabled bool) bool {
	c.mu.Lock()
	if c.automatic == enabled {
		c.mu.Unlock()
		return false
	}
	c.automatic = enabled
	now := c.nowFn()
	state := "DISABLED"
	if enabled {
		state = "ENABLED"
	}
	c.history.Push(fmt.Sprintf("[%s] AUTO MODE %s", now.Format(model.TimestampLayout), state))
	c.mu.Unlock()

	metrics.AutomaticModeEnabled.WithLabelValues(c.deviceID).Set(boolGauge(enabled))
	c.logger.Info("automatic mode changed", "enabled", enabled)
	c.sendAlerts(ctx, alert.Alert{
		Type:    alert.AlertTypeAutoMode,
		Device:  c.deviceID,
		Title:   "Automatic mode " + state,
		Message: "Adaptive setpoint adjustment is now " + state,
	})
	return true
}

func (c *Controller) Automatic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.automatic
}

// Status returns the last telemetry received, if any.
func (c *Controller) Status() (model.Telemetry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return model.Telemetry{}, false
	}
	return *c.last, true
}

// History returns up to n of the newest history lines, oldest first.
func (c *Controller) History(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Tail(n)
}

func (c *Controller) Pending() (model.PendingCommand, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return model.PendingCommand{}, false
	}
	return *c.pending, true
}

func (c *Controller) Decisions() []adaptive.DecisionRecord {
	return c.engine.Decisions()
}

func (c *Controller) PedestrianEvents() []adaptive.PedestrianActivation {
	return c.engine.PedestrianEvents()
}

func (c *Controller) ImbalanceSamples() []adaptive.ImbalanceSample {
	return c.engine.ImbalanceSamples()
}

func (c *Controller) EngineState() adaptive.State {
	return c.engine.State(c.nowFn())
}

func (c *Controller) EngineConfig() adaptive.Config {
	return c.engine.Config()
}

// Overview gathers everything the dashboard renders under one lock.
func (c *Controller) Overview(historyLines int) Overview {
	c.mu.Lock()
	defer c.mu.Unlock()

	ov := Overview{
		DeviceID:       c.deviceID,
		Automatic:      c.automatic,
		LastReceivedAt: c.lastReceivedAt,
		History:        c.history.Tail(historyLines),
		Engine:         c.engine.State(c.nowFn()),
		Decisions:      c.engine.Decisions(),
	}
	if c.last != nil {
		last := *c.last
		ov.Last = &last
	}
	if c.pending != nil {
		p := *c.pending
		ov.Pending = &p
	}
	return ov
}

func (c *Controller) decisionRecord(d adaptive.Decision) model.DecisionRecord {
	return model.DecisionRecord{
		ID:         d.ID,
		DeviceID:   c.deviceID,
		DecidedAt:  d.At,
		Rule:       string(d.Rule),
		Setpoint:   string(d.Setpoint),
		PreviousMs: d.Previous,
		ValueMs:    d.Value,
		Command:    d.Command,
		Rationale:  d.Rationale,
	}
}

func (c *Controller) adjustmentAlert(d adaptive.Decision) alert.Alert {
	return alert.Alert{
		Type:    alert.AlertTypeAdjustment,
		Device:  c.deviceID,
		Key:     string(d.Setpoint),
		Title:   fmt.Sprintf("%s adjusted to %d ms", d.Setpoint, d.Value),
		Message: d.Rationale,
		Fields: map[string]string{
			"command":     d.Command,
			"rule":        string(d.Rule),
			"previous_ms": strconv.Itoa(d.Previous),
			"value_ms":    strconv.Itoa(d.Value),
		},
	}
}

// sendAlerts delivers alerts off the request path.
func (c *Controller) sendAlerts(ctx context.Context, alerts ...alert.Alert) {
	if len(alerts) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, alertTimeout)
		defer cancel()
		for _, a := range alerts {
			if err := c.alerter.Send(ctx, a); err != nil {
				c.logger.Warn("alert delivery failed", "type", a.Type, "error", err)
			}
		}
	}()
}

func toSnapshot(tel model.Telemetry, at time.Time) adaptive.Snapshot {
	return adaptive.Snapshot{
		Mode:              tel.Mode.String(),
		Phase:             tel.Phase,
		Dir1:              tel.VehiclesDir1,
		Dir2:              tel.VehiclesDir2,
		PedestrianCounter: tel.PedestrianCounter,
		At:                at,
		Setpoints: adaptive.ReportedSetpoints{
			NormalGreen:   tel.NormalGreenMs,
			Pedestrian:    tel.PedestrianMs,
			HeavyGreenMax: tel.HeavyGreenMaxMs,
			HeavyGreenMin: tel.HeavyGreenMinMs,
		},
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

type noopRecorder struct{}

func (noopRecorder) RecordTelemetry(model.TelemetryRecord) bool { return false }
func (noopRecorder) RecordDecision(model.DecisionRecord) bool   { return false }
