// Package snapshot holds the typed, immutable readings produced from raw
// telemetry payloads.
package snapshot

import (
	"encoding/json"
	"strconv"
	"time"
)

// Reading is a value that a sensor may not have reported. An unavailable
// reading is never the same thing as a measured zero.
type Reading struct {
	Value float64
	Valid bool
}

// Measured returns a valid reading.
func Measured(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Unavailable is the zero Reading.
var Unavailable = Reading{}

// Or returns the value, or fallback when unavailable.
func (r Reading) Or(fallback float64) float64 {
	if !r.Valid {
		return fallback
	}
	return r.Value
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(r.Value, 'f', -1, 64)), nil
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Unavailable
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Measured(v)
	return nil
}

// Power holds rail readings in milliwatts. Rails without a Reading default
// to zero when unmeasured.
type Power struct {
	TotalMW       float64
	CPUMW         float64
	GPUMW         float64
	ANEMW         float64
	MemoryMW      Reading
	WiFiMW        float64
	SSDMW         float64
	BluetoothMW   float64
	BatteryRailMW Reading
}

// Temperatures holds the five component sensors in °C.
type Temperatures struct {
	CPU     Reading `json:"cpu_c"`
	GPU     Reading `json:"gpu_c"`
	Memory  Reading `json:"memory_c"`
	SSD     Reading `json:"ssd_c"`
	Battery Reading `json:"battery_c"`
}

// Hottest returns the highest available temperature.
func (t Temperatures) Hottest() Reading {
	hottest := Unavailable
	for _, r := range []Reading{t.CPU, t.GPU, t.Memory, t.SSD, t.Battery} {
		if r.Valid && (!hottest.Valid || r.Value > hottest.Value) {
			hottest = r
		}
	}
	return hottest
}

// ProcessRecord is one row of a process table. Names are not unique and no
// identity survives across samples.
type ProcessRecord struct {
	Name          string  `json:"name"`
	CPUMsPerSec   float64 `json:"cpu_ms_per_s"`
	WakeupsPerSec float64 `json:"wakeups_per_s"`
}

// BatteryInfo carries the capacity fields used to build a battery profile.
type BatteryInfo struct {
	DesignMAh  Reading
	NominalMAh Reading
	HealthPct  Reading
	CycleCount int
}

// Rails is the fast-cadence part of a snapshot.
type Rails struct {
	At      time.Time
	Power   Power
	Temps   Temperatures
	Missing []string
}

// Host is the slow-cadence part of a snapshot.
type Host struct {
	At                 time.Time
	BatteryPercent     Reading
	Charging           bool
	AvailableMemoryPct Reading
	WakeupsPerSec      float64
	Processes          []ProcessRecord
	Battery            BatteryInfo
	Missing            []string
}

// Snapshot is one point-in-time reading. It is immutable once produced.
type Snapshot struct {
	Rails
	Host
}

// At returns the time the snapshot was taken.
func (s Snapshot) At() time.Time {
	return s.Rails.At
}

// Missing returns every field absent from the payload.
func (s Snapshot) Missing() []string {
	out := make([]string, 0, len(s.Rails.Missing)+len(s.Host.Missing))
	out = append(out, s.Rails.Missing...)
	return append(out, s.Host.Missing...)
}
