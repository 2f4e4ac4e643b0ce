package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
)

type TelemetryRepo struct {
	db *DB
}

func NewTelemetryRepo(db *DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

// SaveTelemetry inserts rec; a repeated ID is ignored.
func (r *TelemetryRepo) SaveTelemetry(ctx context.Context, rec *model.TelemetryRecord) error {
	payload, err := json.Marshal(rec.Telemetry)
	if err != nil {
		return fmt.Errorf("marshal telemetry payload: %w", err)
	}

	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO telemetry (
			id, device_id, received_at, mode, phase,
			vehicles_dir1, vehicles_dir2, co2, pedestrian_counter,
			payload, delivered_command
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID, rec.DeviceID, rec.ReceivedAt, string(rec.Telemetry.Mode), rec.Telemetry.Phase,
		rec.Telemetry.VehiclesDir1, rec.Telemetry.VehiclesDir2, rec.Telemetry.CO2, rec.Telemetry.PedestrianCounter,
		payload, rec.DeliveredCommand,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry %s: %w", rec.ID, err)
	}
	return nil
}

// RecentTelemetry returns up to limit records for deviceID, newest first.
func (r *TelemetryRepo) RecentTelemetry(ctx context.Context, deviceID string, limit int) ([]model.TelemetryRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, received_at, payload, delivered_command
		FROM telemetry
		WHERE device_id = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	var out []model.TelemetryRecord
	for rows.Next() {
		var (
			rec     model.TelemetryRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.ReceivedAt, &payload, &rec.DeliveredCommand); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Telemetry); err != nil {
			return nil, fmt.Errorf("decode telemetry payload %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
