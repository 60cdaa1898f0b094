// Package classify maps continuous readings onto fixed severity tiers.
// Every function is total: each input maps to exactly one tier, and an
// unavailable input maps to Unknown.
package classify

import "codeberg.org/mutker/powerdash/internal/snapshot"

// Tier is a severity level.
type Tier string

const (
	Unknown  Tier = "unknown"
	Normal   Tier = "normal"
	Good     Tier = "good"
	Warning  Tier = "warning"
	Critical Tier = "critical"
)

// Thresholds. Boundary values resolve to the lower-severity side where the
// comparison is inclusive.
const (
	MemoryCriticalPct = 15.0
	MemoryWarningPct  = 30.0

	ThermalWarningC  = 60.0
	ThermalCriticalC = 80.0

	WakeupsWarning  = 500.0
	WakeupsCritical = 1000.0

	RunwayCriticalHours = 6.0
	RunwayWarningHours  = 12.0
)

// Memory classifies available memory percent.
func Memory(availablePct snapshot.Reading) Tier {
	if !availablePct.Valid {
		return Unknown
	}

	switch v := availablePct.Value; {
	case v <= MemoryCriticalPct:
		return Critical
	case v <= MemoryWarningPct:
		return Warning
	default:
		return Normal
	}
}

// Thermal classifies the hottest component temperature in °C.
func Thermal(hottest snapshot.Reading) Tier {
	if !hottest.Valid {
		return Unknown
	}

	switch v := hottest.Value; {
	case v < ThermalWarningC:
		return Normal
	case v < ThermalCriticalC:
		return Warning
	default:
		return Critical
	}
}

// Wakeups classifies the aggregate wakeup rate.
func Wakeups(perSec snapshot.Reading) Tier {
	if !perSec.Valid {
		return Unknown
	}

	switch v := perSec.Value; {
	case v < WakeupsWarning:
		return Normal
	case v < WakeupsCritical:
		return Warning
	default:
		return Critical
	}
}

// Runway classifies battery runway hours at full charge.
func Runway(hours snapshot.Reading) Tier {
	if !hours.Valid {
		return Unknown
	}

	switch v := hours.Value; {
	case v < RunwayCriticalHours:
		return Critical
	case v < RunwayWarningHours:
		return Warning
	default:
		return Good
	}
}
