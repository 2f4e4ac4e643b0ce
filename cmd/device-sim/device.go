package main

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/adaptive"
	"github.com/alejandrodgz/self-adaptive-smart-city-systems/internal/domain/model"
)

type scenario string

const (
	scenarioBalanced   scenario = "balanced"
	scenarioPedestrian scenario = "pedestrian"
	scenarioHeavy      scenario = "heavy"
	scenarioQuiet      scenario = "quiet"
)

var scenarioHelp = map[scenario]string{
	scenarioBalanced:   "similar load on both approaches, occasional pedestrians",
	scenarioPedestrian: "frequent button presses, light traffic",
	scenarioHeavy:      "direction 1 carries most of the load",
	scenarioQuiet:      "almost no traffic and no pedestrians",
}

func listScenarios() []scenario {
	return []scenario{scenarioBalanced, scenarioPedestrian, scenarioHeavy, scenarioQuiet}
}

func parseScenario(s string) (scenario, error) {
	for _, sc := range listScenarios() {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q (balanced, pedestrian, heavy, quiet)", s)
}

// device mimics the ESP32 firmware: it reports counts and its live setpoints
// and applies whatever command comes back.
type device struct {
	scenario scenario
	rng      *rand.Rand

	mode    model.OperatingMode
	phase   int
	counter int64

	normalGreenMs   int
	pedestrianMs    int
	heavyGreenMaxMs int
	heavyGreenMinMs int

	applied int
}

func newDevice(sc scenario, seed uint64) *device {
	return &device{
		scenario:        sc,
		rng:             rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		mode:            model.ModeNormal,
		normalGreenMs:   adaptive.DefaultGreenBaseMs,
		pedestrianMs:    adaptive.DefaultPedestrianBaseMs,
		heavyGreenMaxMs: adaptive.DefaultGreenBaseMs,
		heavyGreenMinMs: adaptive.DefaultGreenMinMs,
	}
}

var phases = []string{"VERDE_DIR1", "AMARILLO_DIR1", "VERDE_DIR2", "AMARILLO_DIR2"}

func (d *device) next() model.Telemetry {
	dir1, dir2 := d.vehicles()
	if d.pressed() {
		d.counter++
	}
	d.phase = (d.phase + 1) % len(phases)

	normal, ped, heavyMax, heavyMin := d.normalGreenMs, d.pedestrianMs, d.heavyGreenMaxMs, d.heavyGreenMinMs
	return model.Telemetry{
		Mode:              d.mode,
		Phase:             phases[d.phase],
		VehiclesDir1:      dir1,
		VehiclesDir2:      dir2,
		LDR1:              400 + d.rng.IntN(200),
		LDR2:              400 + d.rng.IntN(200),
		CO2:               380 + d.rng.IntN(120),
		WiFiRSSI:          -55 - d.rng.IntN(20),
		PedestrianCounter: d.counter,
		NormalGreenMs:     &normal,
		PedestrianMs:      &ped,
		HeavyGreenMaxMs:   &heavyMax,
		HeavyGreenMinMs:   &heavyMin,
	}
}

func (d *device) vehicles() (int, int) {
	switch d.scenario {
	case scenarioHeavy:
		return 10 + d.rng.IntN(6), d.rng.IntN(3)
	case scenarioQuiet:
		return 0, 0
	default:
		n := 3 + d.rng.IntN(4)
		return n, n + d.rng.IntN(2)
	}
}

func (d *device) pressed() bool {
	switch d.scenario {
	case scenarioPedestrian:
		return true
	case scenarioQuiet:
		return false
	default:
		return d.rng.IntN(20) == 0
	}
}

// apply executes a command from the controller response.
func (d *device) apply(cmd string) error {
	if strings.HasPrefix(cmd, "ADJUST:") {
		id, ms, err := adaptive.ParseCommand(cmd)
		if err != nil {
			return err
		}
		switch id {
		case adaptive.SetpointPedestrian:
			d.pedestrianMs = ms
		case adaptive.SetpointHeavyGreenMax:
			d.heavyGreenMaxMs = ms
		default:
			return fmt.Errorf("unsupported setpoint %s", id)
		}
		d.applied++
		return nil
	}

	mc := model.ManualCommand(cmd)
	if !mc.Valid() {
		return fmt.Errorf("unknown command %q", cmd)
	}
	d.mode = model.OperatingMode(mc)
	d.applied++
	return nil
}
