package metrics

import (
	"context"
	"database/sql"

	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/snapshot"
)

// Recorder persists dashboard states.
type Recorder interface {
	Record(ctx context.Context, state dashboard.State) error
	Close() error
}

// Repository buffers rows and writes them in batches.
type Repository interface {
	Record(row *StateRow) error
	Flush() error
	Close() error
}

// StateRow is the flattened, persisted form of a dashboard state.
// Unmeasured readings are stored as NULL.
type StateRow struct {
	AtMillis        int64
	TotalMW         float64
	CPUMW           float64
	GPUMW           float64
	ANEMW           float64
	MemoryMW        sql.NullFloat64
	AccessoryMW     float64
	DisplayMW       sql.NullFloat64
	ResidualMW      float64
	HottestC        sql.NullFloat64
	BatteryPct      sql.NullFloat64
	Charging        bool
	MemAvailablePct sql.NullFloat64
	WakeupsPerSec   sql.NullFloat64
	RunwayHours     sql.NullFloat64
	WindowedHours   sql.NullFloat64
	WindowMinutes   int
	TierMemory      string
	TierThermal     string
	TierWakeups     string
	TierEfficiency  string
	RailsStale      bool
	HostStale       bool
	ShiftPct        sql.NullFloat64
	Anomalies       []dashboard.Anomaly
}

// NewStateRow flattens st.
func NewStateRow(st dashboard.State) *StateRow {
	row := &StateRow{
		AtMillis:        st.At.UnixMilli(),
		TotalMW:         st.Power.TotalMW,
		CPUMW:           st.Power.CPUMW,
		GPUMW:           st.Power.GPUMW,
		ANEMW:           st.Power.ANEMW,
		MemoryMW:        nullable(st.Power.MemoryMW),
		AccessoryMW:     st.Power.AccessoryMW,
		DisplayMW:       nullable(st.Power.DisplayMW),
		ResidualMW:      st.Power.ResidualMW,
		HottestC:        nullable(st.HottestC),
		BatteryPct:      nullable(st.BatteryPct),
		Charging:        st.Charging,
		MemAvailablePct: nullable(st.MemoryAvailablePct),
		WakeupsPerSec:   nullable(st.WakeupsPerSec),
		WindowMinutes:   st.Runway.WindowMinutes,
		TierMemory:      string(st.Tiers.Memory),
		TierThermal:     string(st.Tiers.Thermal),
		TierWakeups:     string(st.Tiers.Wakeups),
		TierEfficiency:  string(st.Tiers.Efficiency),
		RailsStale:      st.Health.RailsStale,
		HostStale:       st.Health.HostStale,
		Anomalies:       append([]dashboard.Anomaly(nil), st.AllAnomalies...),
	}

	if st.Runway.Available {
		row.RunwayHours = sql.NullFloat64{Float64: st.Runway.Instant.Hours, Valid: true}
		row.WindowedHours = sql.NullFloat64{Float64: st.Runway.Windowed.Hours, Valid: true}
	}
	if st.PowerShift != nil {
		row.ShiftPct = sql.NullFloat64{Float64: st.PowerShift.DeltaPct, Valid: true}
	}

	return row
}

func nullable(r snapshot.Reading) sql.NullFloat64 {
	return sql.NullFloat64{Float64: r.Value, Valid: r.Valid}
}
