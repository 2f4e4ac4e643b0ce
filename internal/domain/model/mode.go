package model

// OperatingMode is the controller state reported in the "estado" field.
type OperatingMode string

const (
	ModeNormal       OperatingMode = "NORMAL"
	ModeNight        OperatingMode = "NOCTURNO"
	ModeHeavyTraffic OperatingMode = "TRAFICO_PESADO"
	ModePedestrian   OperatingMode = "PEATONAL"
	ModeEmission     OperatingMode = "EMISION"
)

func (m OperatingMode) String() string {
	return string(m)
}

// Known reports whether m is a mode the device firmware defines.
func (m OperatingMode) Known() bool {
	switch m {
	case ModeNormal, ModeNight, ModeHeavyTraffic, ModePedestrian, ModeEmission:
		return true
	default:
		return false
	}
}

// ManualCommand is an operator instruction accepted by POST /api/command.
type ManualCommand string

const (
	ManualPedestrian ManualCommand = "PEATONAL"
	ManualNormal     ManualCommand = "NORMAL"
	ManualNight      ManualCommand = "NOCTURNO"
)

func (c ManualCommand) Valid() bool {
	switch c {
	case ManualPedestrian, ManualNormal, ManualNight:
		return true
	default:
		return false
	}
}

// CommandSource records who queued a pending command.
type CommandSource string

const (
	SourceManual   CommandSource = "manual"
	SourceAdaptive CommandSource = "adaptive"
)
