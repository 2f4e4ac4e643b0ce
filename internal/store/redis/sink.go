package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
)

const (
	telemetryStream = "telemetry"
	decisionStream  = "decisions"
)

var (
	ErrUnknownFeed   = errors.New("unknown record feed")
	ErrInvalidOffset = errors.New("invalid feed offset")
)

// StreamSink publishes records to "<namespace>:<device>:telemetry" and
// "<namespace>:<device>:decisions".
type StreamSink struct {
	transport MessageTransport
	namespace string
}

func NewStreamSink(transport MessageTransport, namespace string) *StreamSink {
	if namespace == "" {
		namespace = "traffic"
	}
	return &StreamSink{transport: transport, namespace: namespace}
}

// StreamName returns the stream a device's records of kind are published to.
func (s *StreamSink) StreamName(deviceID, kind string) string {
	return s.namespace + ":" + deviceID + ":" + kind
}

func (s *StreamSink) SaveTelemetry(ctx context.Context, rec *model.TelemetryRecord) error {
	if _, err := s.transport.PublishJSON(ctx, s.StreamName(rec.DeviceID, telemetryStream), rec); err != nil {
		return fmt.Errorf("publish telemetry %s: %w", rec.ID, err)
	}
	return nil
}

func (s *StreamSink) SaveDecision(ctx context.Context, rec *model.DecisionRecord) error {
	if _, err := s.transport.PublishJSON(ctx, s.StreamName(rec.DeviceID, decisionStream), rec); err != nil {
		return fmt.Errorf("publish decision %s: %w", rec.ID, err)
	}
	return nil
}

// Next blocks until a record of kind ("telemetry" or "decisions") newer than
// after is published for deviceID. It returns the record's stream ID, which
// the caller passes back as after to continue. An empty after starts from
// the oldest retained record.
func (s *StreamSink) Next(ctx context.Context, deviceID, kind, after string) (string, json.RawMessage, error) {
	if kind != telemetryStream && kind != decisionStream {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownFeed, kind)
	}
	if err := validateStreamOffset(after); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidOffset, err)
	}
	var raw json.RawMessage
	id, err := s.transport.ReadJSON(ctx, s.StreamName(deviceID, kind), after, &raw)
	if err != nil {
		return "", nil, err
	}
	return id, raw, nil
}

func (s *StreamSink) Ping(ctx context.Context) error {
	return s.transport.Ping(ctx)
}
