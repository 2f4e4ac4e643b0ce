package adaptive

// SetpointID names a device setpoint the engine is allowed to adjust.
type SetpointID string

const (
	SetpointPedestrian    SetpointID = "SP_PEATONAL"
	SetpointHeavyGreenMax SetpointID = "SP_VERDE_PESADO_MAX"
)

// Setpoints is the last-known setpoint snapshot, in milliseconds.
type Setpoints struct {
	NormalGreen   int `json:"normal_green_ms"`
	Pedestrian    int `json:"pedestrian_ms"`
	HeavyGreenMax int `json:"heavy_green_max_ms"`
	HeavyGreenMin int `json:"heavy_green_min_ms"`
}

// ReportedSetpoints carries the setpoints a device included in one report.
// A nil field means the device did not report it.
type ReportedSetpoints struct {
	NormalGreen   *int
	Pedestrian    *int
	HeavyGreenMax *int
	HeavyGreenMin *int
}

// SetpointStore holds the device's self-reported setpoints. Adjustments are
// computed from these values; commands never write back into the store.
type SetpointStore struct {
	current Setpoints
}

func NewSetpointStore(initial Setpoints) *SetpointStore {
	return &SetpointStore{current: initial}
}

// Update merges present fields. Absent or non-positive values leave the prior
// value untouched.
func (s *SetpointStore) Update(reported ReportedSetpoints) {
	mergeSetpoint(&s.current.NormalGreen, reported.NormalGreen)
	mergeSetpoint(&s.current.Pedestrian, reported.Pedestrian)
	mergeSetpoint(&s.current.HeavyGreenMax, reported.HeavyGreenMax)
	mergeSetpoint(&s.current.HeavyGreenMin, reported.HeavyGreenMin)
}

func (s *SetpointStore) Current() Setpoints {
	return s.current
}

func mergeSetpoint(dst *int, value *int) {
	if value == nil || *value <= 0 {
		return
	}
	*dst = *value
}
