package postgres

import (
	"context"
	"fmt"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
)

type DecisionRepo struct {
	db *DB
}

func NewDecisionRepo(db *DB) *DecisionRepo {
	return &DecisionRepo{db: db}
}

// SaveDecision inserts rec; a repeated ID is ignored.
func (r *DecisionRepo) SaveDecision(ctx context.Context, rec *model.DecisionRecord) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO adaptive_decisions (
			id, device_id, decided_at, rule, setpoint,
			previous_ms, value_ms, command, rationale
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID, rec.DeviceID, rec.DecidedAt, rec.Rule, rec.Setpoint,
		rec.PreviousMs, rec.ValueMs, rec.Command, rec.Rationale,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", rec.ID, err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions for deviceID, newest first.
func (r *DecisionRepo) RecentDecisions(ctx context.Context, deviceID string, limit int) ([]model.DecisionRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, decided_at, rule, setpoint, previous_ms, value_ms, command, rationale
		FROM adaptive_decisions
		WHERE device_id = $1
		ORDER BY decided_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionRecord
	for rows.Next() {
		var rec model.DecisionRecord
		if err := rows.Scan(
			&rec.ID, &rec.DeviceID, &rec.DecidedAt, &rec.Rule, &rec.Setpoint,
			&rec.PreviousMs, &rec.ValueMs, &rec.Command, &rec.Rationale,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
