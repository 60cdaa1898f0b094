package power_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	"github.com/stretchr/testify/assert"
)

func TestDecomposeResidual(t *testing.T) {
	b := power.Decompose(snapshot.Power{TotalMW: 12000, CPUMW: 4000, GPUMW: 1000})

	assert.InDelta(t, 5000, b.ComputeMW, 1e-9)
	assert.InDelta(t, 7000, b.ResidualMW, 1e-9)
	assert.False(t, b.DisplayMW.Valid)
	assert.False(t, b.MemoryMW.Valid)
}

func TestDecomposeClampsNegativeResidual(t *testing.T) {
	b := power.Decompose(snapshot.Power{TotalMW: 5000, CPUMW: 3000, GPUMW: 3000})
	assert.Zero(t, b.ResidualMW)
}

func TestDecomposeWithMemoryAndAccessories(t *testing.T) {
	b := power.Decompose(snapshot.Power{
		TotalMW:     10000,
		CPUMW:       3000,
		GPUMW:       500,
		ANEMW:       100,
		MemoryMW:    snapshot.Measured(400),
		WiFiMW:      200,
		SSDMW:       150,
		BluetoothMW: 50,
	})

	assert.InDelta(t, 4000, b.ComputeMW, 1e-9)
	assert.InDelta(t, 400, b.AccessoryMW, 1e-9)
	assert.InDelta(t, 5600, b.ResidualMW, 1e-9)
}

func TestDecomposeDisplayEstimate(t *testing.T) {
	b := power.Decompose(snapshot.Power{
		TotalMW:       10000,
		CPUMW:         4000,
		BatteryRailMW: snapshot.Measured(12500),
	})

	assert.Equal(t, snapshot.Measured(2500), b.DisplayMW)
	assert.InDelta(t, 3500, b.ResidualMW, 1e-9)
}

func TestDecomposeDisplayClamped(t *testing.T) {
	b := power.Decompose(snapshot.Power{
		TotalMW:       10000,
		BatteryRailMW: snapshot.Measured(9000),
	})

	assert.Equal(t, snapshot.Measured(0), b.DisplayMW)
	assert.InDelta(t, 10000, b.ResidualMW, 1e-9)
}

func TestDecomposeBucketsNeverNegative(t *testing.T) {
	inputs := []snapshot.Power{
		{TotalMW: -50, CPUMW: 10},
		{TotalMW: 100, CPUMW: -300, GPUMW: 900, ANEMW: math.NaN()},
		{TotalMW: 1, MemoryMW: snapshot.Measured(-20), BatteryRailMW: snapshot.Measured(-4)},
		{TotalMW: 800, WiFiMW: 900, SSDMW: -1, BatteryRailMW: snapshot.Measured(5000)},
	}

	for _, in := range inputs {
		b := power.Decompose(in)
		for _, v := range []float64{
			b.TotalMW, b.ComputeMW, b.CPUMW, b.GPUMW, b.ANEMW,
			b.MemoryMW.Value, b.AccessoryMW, b.DisplayMW.Value, b.ResidualMW,
		} {
			assert.GreaterOrEqual(t, v, 0.0, "%+v", in)
		}
	}
}
