// Package dashboard merges the latest fast and slow samples into the
// consumer-facing state.
package dashboard

import (
	"time"

	"codeberg.org/mutker/powerdash/internal/classify"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/snapshot"
)

// State is rebuilt on every fast tick. Its JSON encoding is the machine
// record emitted by snapshot and stream modes.
type State struct {
	At                 time.Time             `json:"at"`
	Power              power.Breakdown       `json:"power"`
	Temperatures       snapshot.Temperatures `json:"temperatures"`
	HottestC           snapshot.Reading      `json:"hottest_c"`
	BatteryPct         snapshot.Reading      `json:"battery_pct"`
	Charging           bool                  `json:"charging"`
	Battery            power.BatteryProfile  `json:"battery"`
	MemoryAvailablePct snapshot.Reading      `json:"mem_available_pct"`
	WakeupsPerSec      snapshot.Reading      `json:"wakeups_per_s"`
	TopProcesses       []Process             `json:"top_processes"`
	Anomalies          []Anomaly             `json:"anomalies"`
	AllAnomalies       []Anomaly             `json:"all_anomalies"`
	Runway             Runways               `json:"runway"`
	Tiers              Tiers                 `json:"tiers"`
	PowerShift         *history.Shift        `json:"power_shift,omitempty"`
	Health             Health                `json:"health"`
}

// Process is one top-N row.
type Process struct {
	Name          string  `json:"name"`
	Label         string  `json:"label"`
	CPUMsPerSec   float64 `json:"cpu_ms_per_s"`
	WakeupsPerSec float64 `json:"wakeups_per_s"`
}

// Anomaly is one wakeup-heavy process.
type Anomaly struct {
	Name          string  `json:"name"`
	Label         string  `json:"label"`
	WakeupsPerSec float64 `json:"wakeups_per_s"`
}

// Runways holds the instantaneous and history-averaged estimates. Both use
// total system rail power as the draw.
type Runways struct {
	Available     bool         `json:"available"`
	Instant       power.Runway `json:"instant"`
	Windowed      power.Runway `json:"windowed"`
	WindowMinutes int          `json:"window_minutes"`
}

type Tiers struct {
	Memory     classify.Tier `json:"memory"`
	Thermal    classify.Tier `json:"thermal"`
	Wakeups    classify.Tier `json:"wakeups"`
	Efficiency classify.Tier `json:"efficiency"`
}

// Health reports sampling problems. A stale cadence is still showing the
// last values it sampled successfully.
type Health struct {
	RailsStale     bool     `json:"rails_stale"`
	HostStale      bool     `json:"host_stale"`
	FastFailures   uint64   `json:"fast_failures"`
	SlowFailures   uint64   `json:"slow_failures"`
	InvalidSamples uint64   `json:"invalid_samples"`
	Missing        []string `json:"missing,omitempty"`
}

// Sink consumes each merged state.
type Sink func(State)

// Fanout returns a sink delivering to every non-nil sink in order.
func Fanout(sinks ...Sink) Sink {
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}

	return func(st State) {
		for _, s := range active {
			s(st)
		}
	}
}
