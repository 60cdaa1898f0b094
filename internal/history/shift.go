package history

import (
	"math"
	"time"
)

const (
	DefaultAlpha          = 0.2
	DefaultShiftThreshold = 10.0

	// minBaselineMW keeps the relative change finite near zero draw.
	minBaselineMW = 100.0
)

// EMA is an exponential moving average seeded by its first sample.
type EMA struct {
	alpha float64
	value float64
	init  bool
}

func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha}
}

func (e *EMA) Add(v float64) float64 {
	if !e.init {
		e.value = v
		e.init = true
		return e.value
	}

	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value
}

func (e *EMA) Value() float64 {
	return e.value
}

// Shift describes a sustained change in smoothed total power relative to
// the last stable baseline. Deltas are negative when power dropped.
type Shift struct {
	At        time.Time `json:"at"`
	DeltaPct  float64   `json:"delta_pct"`
	DeltaMW   float64   `json:"delta_mw"`
	CurrentMW float64   `json:"current_mw"`
}

// ShiftDetector reports when smoothed power moves more than a threshold
// percentage away from its baseline. The baseline follows the smoothed value
// after about a second without a shift.
type ShiftDetector struct {
	ema         *EMA
	threshold   float64
	baseline    float64
	stable      int
	stableTicks int
}

// NewShiftDetector returns a detector for samples arriving every period.
// thresholdPct is a percentage; non-positive selects the default.
func NewShiftDetector(thresholdPct float64, period time.Duration) *ShiftDetector {
	if thresholdPct <= 0 {
		thresholdPct = DefaultShiftThreshold
	}
	if period <= 0 {
		period = DefaultPeriod
	}

	stableTicks := int(time.Second / period)
	if stableTicks < 1 {
		stableTicks = 1
	}

	return &ShiftDetector{
		ema:         NewEMA(DefaultAlpha),
		threshold:   thresholdPct / 100,
		stableTicks: stableTicks,
	}
}

// Observe feeds one total-power sample and returns a shift when the smoothed
// value has left the band around the baseline.
func (d *ShiftDetector) Observe(mw float64, at time.Time) (Shift, bool) {
	smoothed := d.ema.Add(mw)
	if d.baseline == 0 {
		d.baseline = math.Max(smoothed, minBaselineMW)
		return Shift{}, false
	}

	delta := smoothed - d.baseline
	pct := delta / d.baseline

	if math.Abs(pct) > d.threshold {
		d.baseline = math.Max(smoothed, minBaselineMW)
		d.stable = 0

		return Shift{
			At:        at,
			DeltaPct:  pct * 100,
			DeltaMW:   delta,
			CurrentMW: smoothed,
		}, true
	}

	d.stable++
	if d.stable > d.stableTicks {
		d.baseline = math.Max(smoothed, minBaselineMW)
		d.stable = 0
	}

	return Shift{}, false
}

// Baseline returns the current stable reference in milliwatts.
func (d *ShiftDetector) Baseline() float64 {
	return d.baseline
}
