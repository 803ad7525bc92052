package sampler

import (
	"time"

	"boat_tracker/internal/geo"
	"boat_tracker/internal/gps"
	"boat_tracker/internal/storage"
)

// Decision is the outcome of one sampling cycle.
type Decision int

const (
	// Skip writes nothing.
	Skip Decision = iota
	// Bootstrap writes the current fix into an empty store.
	Bootstrap
	// Motion writes the current fix because it moved far enough.
	Motion
	// Heartbeat writes the last stored position again because too long has
	// passed without a write.
	Heartbeat
)

func (d Decision) String() string {
	switch d {
	case Bootstrap:
		return "bootstrap"
	case Motion:
		return "motion"
	case Heartbeat:
		return "heartbeat"
	default:
		return "skip"
	}
}

// Policy holds the novelty thresholds.
type Policy struct {
	MinMilesDelta      float64       `yaml:"min_miles_delta"`
	EngineOnHeartbeat  time.Duration `yaml:"engine_on_heartbeat"`
	EngineOffHeartbeat time.Duration `yaml:"engine_off_heartbeat"`
}

// HeartbeatThreshold returns how long the sampler may go without writing.
func (p Policy) HeartbeatThreshold(engineOn bool) time.Duration {
	if engineOn {
		return p.EngineOnHeartbeat
	}
	return p.EngineOffHeartbeat
}

// Decide chooses whether fix, captured at the shifted timestamp now, should
// be stored given the last stored sample. Elapsed time is measured between
// shifted timestamps so both sides use the same representation.
func (p Policy) Decide(fix gps.Fix, now float64, engineOn bool, last *storage.Sample) (Decision, float64) {
	if last == nil {
		return Bootstrap, 0
	}

	miles := geo.DistanceMiles(fix.Latitude, fix.Longitude, last.Latitude, last.Longitude)
	if miles > p.MinMilesDelta {
		return Motion, miles
	}

	elapsed := now - last.Timestamp
	if elapsed > p.HeartbeatThreshold(engineOn).Seconds() {
		return Heartbeat, miles
	}
	return Skip, miles
}
