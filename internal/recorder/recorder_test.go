package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/circuitbreaker"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/metrics"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/retry"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/store/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		BufferSize: 8,
		Retry:      retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker:    circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour},
	}
}

func telemetryRecord() model.TelemetryRecord {
	return model.TelemetryRecord{
		ID:         uuid.New(),
		DeviceID:   "esp32-gen2",
		ReceivedAt: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		Telemetry:  model.Telemetry{Mode: model.ModeNormal, VehiclesDir1: 3, VehiclesDir2: 1},
	}
}

func startRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink write")
	}
}

func TestRecorder_FansOutToEverySink(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockTelemetrySink(ctrl)
	stream := mocks.NewMockTelemetrySink(ctrl)
	rec := telemetryRecord()

	var wg sync.WaitGroup
	wg.Add(2)
	pg.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, got *model.TelemetryRecord) error {
			defer wg.Done()
			assert.Equal(t, rec.ID, got.ID)
			return nil
		})
	stream.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, got *model.TelemetryRecord) error {
			defer wg.Done()
			return nil
		})

	r := New(testConfig(), testLogger(), []Sink{
		{Name: "postgres", Telemetry: pg},
		{Name: "redis", Telemetry: stream},
	})
	startRecorder(t, r)

	require.True(t, r.RecordTelemetry(rec))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	waitFor(t, done)
}

func TestRecorder_DecisionOnlyGoesToDecisionSinks(t *testing.T) {
	ctrl := gomock.NewController(t)
	decisions := mocks.NewMockDecisionSink(ctrl)
	telemetry := mocks.NewMockTelemetrySink(ctrl)

	done := make(chan struct{})
	decisions.EXPECT().SaveDecision(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, got *model.DecisionRecord) error {
			defer close(done)
			assert.Equal(t, "ADJUST:SP_PEATONAL:17250", got.Command)
			return nil
		})

	r := New(testConfig(), testLogger(), []Sink{
		{Name: "postgres", Decisions: decisions},
		{Name: "telemetry-only", Telemetry: telemetry},
	})
	startRecorder(t, r)

	require.True(t, r.RecordDecision(model.DecisionRecord{ID: uuid.New(), Command: "ADJUST:SP_PEATONAL:17250"}))
	waitFor(t, done)
}

func TestRecorder_RetriesTransientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockTelemetrySink(ctrl)

	done := make(chan struct{})
	gomock.InOrder(
		sink.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).Return(retry.Transient(errors.New("connection reset"))),
		sink.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).DoAndReturn(
			func(context.Context, *model.TelemetryRecord) error {
				close(done)
				return nil
			}),
	)

	r := New(testConfig(), testLogger(), []Sink{{Name: "postgres", Telemetry: sink}})
	startRecorder(t, r)

	require.True(t, r.RecordTelemetry(telemetryRecord()))
	waitFor(t, done)

	assert.Equal(t, map[string]circuitbreaker.State{"postgres": circuitbreaker.StateClosed}, r.SinkStates())
}

func TestRecorder_DataErrorsKeepBreakerClosed(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockTelemetrySink(ctrl)

	tooLong := fmt.Errorf("insert telemetry: %w", &pq.Error{Code: "22001", Message: "value too long for type character varying(32)"})
	done := make(chan struct{})
	gomock.InOrder(
		sink.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).Return(tooLong).Times(5),
		sink.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).DoAndReturn(
			func(context.Context, *model.TelemetryRecord) error {
				close(done)
				return nil
			}),
	)

	var transitions atomic.Int32
	r := New(testConfig(), testLogger(), []Sink{{Name: "postgres", Telemetry: sink}},
		WithBreakerListener(func(string, circuitbreaker.State, circuitbreaker.State) {
			transitions.Add(1)
		}))
	startRecorder(t, r)

	for i := 0; i < 6; i++ {
		require.True(t, r.RecordTelemetry(telemetryRecord()))
	}
	waitFor(t, done)

	assert.Equal(t, circuitbreaker.StateClosed, r.SinkStates()["postgres"])
	assert.Zero(t, transitions.Load())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.RecorderWritesTotal.WithLabelValues("postgres", "telemetry", "rejected")) >= 5
	}, time.Second, 5*time.Millisecond)
}

func TestRecorder_OpenBreakerSkipsSink(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockTelemetrySink(ctrl)

	var (
		mu          sync.Mutex
		transitions []circuitbreaker.State
	)
	opened := make(chan struct{})

	sink.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).
		Return(retry.Terminal(errors.New("permission denied"))).Times(1)

	r := New(testConfig(), testLogger(), []Sink{{Name: "postgres", Telemetry: sink}},
		WithBreakerListener(func(name string, _, to circuitbreaker.State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
			if to == circuitbreaker.StateOpen {
				close(opened)
			}
		}))
	startRecorder(t, r)

	require.True(t, r.RecordTelemetry(telemetryRecord()))
	waitFor(t, opened)

	// breaker is open: the second record must not reach the sink
	require.True(t, r.RecordTelemetry(telemetryRecord()))
	assert.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, circuitbreaker.StateOpen, r.SinkStates()["postgres"])
	mu.Lock()
	assert.Equal(t, []circuitbreaker.State{circuitbreaker.StateOpen}, transitions)
	mu.Unlock()
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockTelemetrySink(ctrl)

	cfg := testConfig()
	cfg.BufferSize = 1
	r := New(cfg, testLogger(), []Sink{{Name: "postgres", Telemetry: sink}})

	assert.True(t, r.RecordTelemetry(telemetryRecord()))
	assert.False(t, r.RecordTelemetry(telemetryRecord()))
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockTelemetrySink(ctrl)
	sink.EXPECT().SaveTelemetry(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	r := New(testConfig(), testLogger(), []Sink{{Name: "postgres", Telemetry: sink}})
	for i := 0; i < 3; i++ {
		require.True(t, r.RecordTelemetry(telemetryRecord()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Empty(t, r.queue)
}

func TestRecorder_WithoutSinks(t *testing.T) {
	r := New(testConfig(), testLogger(), nil)
	assert.False(t, r.Enabled())
	assert.False(t, r.RecordTelemetry(telemetryRecord()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.Run(ctx))

	var nilRecorder *Recorder
	assert.False(t, nilRecorder.Enabled())
}
