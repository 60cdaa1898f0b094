package power

import (
	"math"

	"codeberg.org/mutker/powerdash/internal/snapshot"
)

const (
	// NominalVoltage is the pack voltage of a three-cell lithium battery.
	NominalVoltage = 11.4
	DefaultMAh     = 4500.0

	// MaxRunwayHours caps runway when draw is too small to divide by.
	MaxRunwayHours = 99.0
	minDrawWatts   = 0.1
)

// BatteryProfile is the capacity of the installed battery. It changes
// negligibly within a session and is refreshed only on request.
type BatteryProfile struct {
	CapacityWh float64          `json:"capacity_wh"`
	HealthPct  snapshot.Reading `json:"health_pct"`
	CycleCount int              `json:"cycle_count"`
	Estimated  bool             `json:"estimated"`
}

// NewBatteryProfile derives a profile from the battery fields of a sample,
// falling back to DefaultMAh when the nominal capacity is unknown.
func NewBatteryProfile(info snapshot.BatteryInfo) BatteryProfile {
	p := BatteryProfile{
		CycleCount: info.CycleCount,
		HealthPct:  snapshot.Unavailable,
	}

	mah := info.NominalMAh.Or(0)
	if mah <= 0 {
		mah = DefaultMAh
		p.Estimated = true
	}
	p.CapacityWh = mah * NominalVoltage / 1000

	switch {
	case info.NominalMAh.Valid && info.DesignMAh.Valid && info.DesignMAh.Value > 0:
		p.HealthPct = snapshot.Measured(info.NominalMAh.Value / info.DesignMAh.Value * 100)
	case info.HealthPct.Valid:
		p.HealthPct = info.HealthPct
	}

	return p
}

// Runway is the estimated hours of operation on a full charge at the given
// draw, plus the hours left at the current charge.
type Runway struct {
	Hours          float64          `json:"hours"`
	RemainingHours snapshot.Reading `json:"remaining_hours"`
	DrawMW         float64          `json:"draw_mw"`
}

// EstimateRunway divides capacity by draw. Draws below 0.1 W report
// MaxRunwayHours.
func (p BatteryProfile) EstimateRunway(drawMW float64, batteryPct snapshot.Reading) Runway {
	r := Runway{
		Hours:          MaxRunwayHours,
		RemainingHours: snapshot.Unavailable,
		DrawMW:         clamp(drawMW),
	}

	if watts := r.DrawMW / 1000; watts > minDrawWatts {
		r.Hours = math.Min(p.CapacityWh/watts, MaxRunwayHours)
	}

	if batteryPct.Valid {
		r.RemainingHours = snapshot.Measured(r.Hours * batteryPct.Value / 100)
	}

	return r
}
