// Package adaptive implements the decision engine that retunes a traffic
// controller's signal setpoints from its telemetry.
//
// Each Resolve call folds one telemetry snapshot into the engine's trackers
// (pedestrian activation edges, direction-imbalance samples, reported
// setpoints) and then evaluates the adjustment rules in priority order:
//
//  1. pedestrian demand scales SP_PEATONAL up or down;
//  2. direction imbalance scales SP_VERDE_PESADO_MAX up or down, and only runs
//     when the pedestrian rule proposed nothing.
//
// At most one command is produced per call. Commands are gated by a cooldown
// between applied adjustments and by suppression of a command identical to the
// last applied one. Every produced value is clamped to its configured bounds.
//
// The engine performs no I/O and is safe for concurrent use.
package adaptive
