// Package power splits system power into attributable buckets and derives
// battery runway from it.
package power

import (
	"math"

	"codeberg.org/mutker/powerdash/internal/snapshot"
)

// Breakdown is total system power split into named buckets, in milliwatts.
// Every bucket is non-negative.
type Breakdown struct {
	TotalMW     float64          `json:"total_mw"`
	ComputeMW   float64          `json:"compute_mw"`
	CPUMW       float64          `json:"cpu_mw"`
	GPUMW       float64          `json:"gpu_mw"`
	ANEMW       float64          `json:"ane_mw"`
	MemoryMW    snapshot.Reading `json:"memory_mw"`
	AccessoryMW float64          `json:"accessory_mw"`
	DisplayMW   snapshot.Reading `json:"display_mw"`
	ResidualMW  float64          `json:"residual_mw"`
}

// Decompose splits the rails of p. Sensor asynchrony can make the
// subtractions go negative, so each derived bucket is clamped at zero.
func Decompose(p snapshot.Power) Breakdown {
	b := Breakdown{
		TotalMW:  clamp(p.TotalMW),
		CPUMW:    clamp(p.CPUMW),
		GPUMW:    clamp(p.GPUMW),
		ANEMW:    clamp(p.ANEMW),
		MemoryMW: snapshot.Unavailable,
	}

	b.ComputeMW = b.CPUMW + b.GPUMW + b.ANEMW
	if p.MemoryMW.Valid {
		b.MemoryMW = snapshot.Measured(clamp(p.MemoryMW.Value))
		b.ComputeMW += b.MemoryMW.Value
	}

	b.AccessoryMW = clamp(p.WiFiMW) + clamp(p.SSDMW) + clamp(p.BluetoothMW)

	display := 0.0
	if p.BatteryRailMW.Valid {
		display = clamp(p.BatteryRailMW.Value - b.TotalMW)
		b.DisplayMW = snapshot.Measured(display)
	}

	b.ResidualMW = clamp(b.TotalMW - b.ComputeMW - b.AccessoryMW - display)

	return b
}

func clamp(mw float64) float64 {
	if math.IsNaN(mw) {
		return 0
	}

	return math.Max(0, mw)
}
