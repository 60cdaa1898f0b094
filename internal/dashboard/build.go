package dashboard

import (
	"codeberg.org/mutker/powerdash/internal/attribution"
	"codeberg.org/mutker/powerdash/internal/classify"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/snapshot"
)

// Input is everything the fast loop knows at merge time. Slow fields persist
// unchanged between slow samples.
type Input struct {
	Rails    snapshot.Rails
	Host     snapshot.Host
	HasRails bool
	HasHost  bool

	// MeanMW is the history mean of total power.
	MeanMW        float64
	WindowMinutes int

	Profile power.BatteryProfile
	Shift   *history.Shift
	Health  Health
}

// Builder turns an Input into a State.
type Builder struct {
	topN       int
	anomalyCap int
	detector   *attribution.Detector
	labeler    *attribution.Labeler
}

// NewBuilder returns a builder. Nil collaborators select the defaults.
func NewBuilder(topN int, detector *attribution.Detector, labeler *attribution.Labeler) *Builder {
	if topN <= 0 {
		topN = attribution.DefaultTopN
	}
	if detector == nil {
		detector = attribution.NewDetector(attribution.DefaultWakeupThreshold, nil)
	}
	if labeler == nil {
		labeler = attribution.NewLabeler(nil)
	}

	return &Builder{
		topN:       topN,
		anomalyCap: attribution.DefaultAnomalyDisplayed,
		detector:   detector,
		labeler:    labeler,
	}
}

// Build merges in into a State.
func (b *Builder) Build(in Input) State {
	st := State{
		At:                 in.Rails.At,
		Power:              power.Decompose(in.Rails.Power),
		Temperatures:       in.Rails.Temps,
		HottestC:           in.Rails.Temps.Hottest(),
		BatteryPct:         in.Host.BatteryPercent,
		Charging:           in.Host.Charging,
		Battery:            in.Profile,
		MemoryAvailablePct: in.Host.AvailableMemoryPct,
		PowerShift:         in.Shift,
		Health:             in.Health,
		TopProcesses:       []Process{},
		Anomalies:          []Anomaly{},
		AllAnomalies:       []Anomaly{},
	}
	if !in.HasRails {
		st.At = in.Host.At
	}

	if in.HasHost {
		st.WakeupsPerSec = snapshot.Measured(in.Host.WakeupsPerSec)

		for _, p := range attribution.TopByCPU(in.Host.Processes, b.topN) {
			st.TopProcesses = append(st.TopProcesses, Process{
				Name:          p.Name,
				Label:         b.labeler.Label(p.Name),
				CPUMsPerSec:   p.CPUMsPerSec,
				WakeupsPerSec: p.WakeupsPerSec,
			})
		}

		all := b.detector.Detect(in.Host.Processes)
		for _, a := range all {
			st.AllAnomalies = append(st.AllAnomalies, Anomaly{
				Name:          a.Name,
				Label:         b.labeler.Label(a.Name),
				WakeupsPerSec: a.WakeupsPerSec,
			})
		}
		st.Anomalies = st.AllAnomalies[:len(all.Top(b.anomalyCap))]
	}

	if in.HasRails {
		st.Runway = Runways{
			Available:     true,
			Instant:       in.Profile.EstimateRunway(in.Rails.Power.TotalMW, in.Host.BatteryPercent),
			Windowed:      in.Profile.EstimateRunway(in.MeanMW, in.Host.BatteryPercent),
			WindowMinutes: in.WindowMinutes,
		}
	}

	st.Tiers = Tiers{
		Memory:     classify.Memory(st.MemoryAvailablePct),
		Thermal:    classify.Thermal(st.HottestC),
		Wakeups:    classify.Wakeups(st.WakeupsPerSec),
		Efficiency: classify.Runway(st.runwayHours()),
	}

	return st
}

func (s State) runwayHours() snapshot.Reading {
	if !s.Runway.Available {
		return snapshot.Unavailable
	}

	return snapshot.Measured(s.Runway.Instant.Hours)
}
