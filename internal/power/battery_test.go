package power_test

import (
	"testing"

	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	"github.com/stretchr/testify/assert"
)

func TestBatteryProfile(t *testing.T) {
	p := power.NewBatteryProfile(snapshot.BatteryInfo{
		DesignMAh:  snapshot.Measured(5000),
		NominalMAh: snapshot.Measured(4500),
		CycleCount: 120,
	})

	assert.InDelta(t, 51.3, p.CapacityWh, 1e-9)
	assert.True(t, p.HealthPct.Valid)
	assert.InDelta(t, 90, p.HealthPct.Value, 1e-9)
	assert.Equal(t, 120, p.CycleCount)
	assert.False(t, p.Estimated)
}

func TestBatteryProfileFallsBackToDefault(t *testing.T) {
	p := power.NewBatteryProfile(snapshot.BatteryInfo{})

	assert.InDelta(t, power.DefaultMAh*power.NominalVoltage/1000, p.CapacityWh, 1e-9)
	assert.False(t, p.HealthPct.Valid)
	assert.True(t, p.Estimated)
}

func TestEstimateRunway(t *testing.T) {
	p := power.BatteryProfile{CapacityWh: 60}

	r := p.EstimateRunway(10000, snapshot.Measured(50))
	assert.InDelta(t, 6, r.Hours, 1e-9)
	assert.Equal(t, snapshot.Measured(3), r.RemainingHours)
}

func TestEstimateRunwayIdleDrawIsCapped(t *testing.T) {
	p := power.BatteryProfile{CapacityWh: 60}

	for _, mw := range []float64{0, 50, 100, -10} {
		r := p.EstimateRunway(mw, snapshot.Unavailable)
		assert.InDelta(t, power.MaxRunwayHours, r.Hours, 1e-9, "draw=%v", mw)
		assert.False(t, r.RemainingHours.Valid)
	}

	// 60 Wh at 0.5 W would be 120 h.
	assert.InDelta(t, power.MaxRunwayHours, p.EstimateRunway(500, snapshot.Unavailable).Hours, 1e-9)
}

func TestBatteryProfileUsesReportedHealth(t *testing.T) {
	p := power.NewBatteryProfile(snapshot.BatteryInfo{HealthPct: snapshot.Measured(87)})

	assert.Equal(t, snapshot.Measured(87), p.HealthPct)
	assert.True(t, p.Estimated)
}
