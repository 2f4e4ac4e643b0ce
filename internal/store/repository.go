package store

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

import (
	"context"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
)

// TelemetrySink persists telemetry reports. Implementations must be
// idempotent on record ID so the recorder can retry.
type TelemetrySink interface {
	SaveTelemetry(ctx context.Context, rec *model.TelemetryRecord) error
}

// DecisionSink persists applied engine adjustments, idempotent on record ID.
type DecisionSink interface {
	SaveDecision(ctx context.Context, rec *model.DecisionRecord) error
}

// TelemetryRepository adds read access for archived telemetry.
type TelemetryRepository interface {
	TelemetrySink
	RecentTelemetry(ctx context.Context, deviceID string, limit int) ([]model.TelemetryRecord, error)
}

// DecisionRepository adds read access for archived decisions.
type DecisionRepository interface {
	DecisionSink
	RecentDecisions(ctx context.Context, deviceID string, limit int) ([]model.DecisionRecord, error)
}
