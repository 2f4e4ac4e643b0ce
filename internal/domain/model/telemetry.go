package model

import (
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the server-stamped timestamp format shared with the
// device and the dashboard.
const TimestampLayout = "2006-01-02 15:04:05"

// Telemetry is one report posted by the field device. Setpoint fields are
// optional; nil means the firmware did not include them.
type Telemetry struct {
	Mode              OperatingMode `json:"estado"`
	Phase             string        `json:"fase,omitempty"`
	VehiclesDir1      int           `json:"vehiculos_dir1"`
	VehiclesDir2      int           `json:"vehiculos_dir2"`
	LDR1              int           `json:"ldr1"`
	LDR2              int           `json:"ldr2"`
	CO2               int           `json:"co2"`
	WiFiRSSI          int           `json:"wifi_rssi"`
	PedestrianCounter int64         `json:"contador_peatonal"`

	NormalGreenMs   *int `json:"sp_verde_normal,omitempty"`
	PedestrianMs    *int `json:"sp_peatonal,omitempty"`
	HeavyGreenMaxMs *int `json:"sp_verde_pesado_max,omitempty"`
	HeavyGreenMinMs *int `json:"sp_verde_pesado_min,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`
}

// TelemetryRecord is a persisted telemetry report.
type TelemetryRecord struct {
	ID               uuid.UUID `db:"id" json:"id"`
	DeviceID         string    `db:"device_id" json:"device_id"`
	ReceivedAt       time.Time `db:"received_at" json:"received_at"`
	Telemetry        Telemetry `db:"payload" json:"payload"`
	DeliveredCommand string    `db:"delivered_command" json:"delivered_command"`
}

// DecisionRecord is a persisted engine adjustment.
type DecisionRecord struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DeviceID   string    `db:"device_id" json:"device_id"`
	DecidedAt  time.Time `db:"decided_at" json:"decided_at"`
	Rule       string    `db:"rule" json:"rule"`
	Setpoint   string    `db:"setpoint" json:"setpoint"`
	PreviousMs int       `db:"previous_ms" json:"previous_ms"`
	ValueMs    int       `db:"value_ms" json:"value_ms"`
	Command    string    `db:"command" json:"command"`
	Rationale  string    `db:"rationale" json:"rationale"`
}

// PendingCommand is the single command waiting for the next telemetry
// response.
type PendingCommand struct {
	Command  string        `json:"command"`
	Source   CommandSource `json:"source"`
	QueuedAt time.Time     `json:"queued_at"`
}
