// Package scheduler drives the fast and slow sampling cadences and merges
// their latest results into one dashboard state per fast tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/backend"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/power"
	"codeberg.org/mutker/powerdash/internal/snapshot"
)

const (
	DefaultFastInterval  = time.Second
	DefaultSlowInterval  = 5 * time.Second
	DefaultSampleTimeout = 2 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSampling Phase = "sampling"
	PhaseMerging  Phase = "merging"
)

type Config struct {
	FastInterval  time.Duration
	SlowInterval  time.Duration
	SampleTimeout time.Duration
	ProbeTimeout  time.Duration
	HistorySize   int
	// ShiftThreshold is the power-shift percentage; zero selects the default.
	ShiftThreshold float64
}

func (c Config) withDefaults() Config {
	if c.FastInterval <= 0 {
		c.FastInterval = DefaultFastInterval
	}
	if c.SlowInterval <= 0 {
		c.SlowInterval = DefaultSlowInterval
	}
	if c.SampleTimeout <= 0 {
		c.SampleTimeout = DefaultSampleTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = history.DefaultSize
	}

	return c
}

// slowResult is handed from the slow worker to the fast loop.
type slowResult struct {
	host    snapshot.Host
	err     error
	invalid uint64
}

// Scheduler owns all sampling state. Only the goroutine running Run touches
// it; the slow worker communicates through a single-slot channel.
type Scheduler struct {
	cfg     Config
	backend backend.Backend
	builder *dashboard.Builder
	sink    dashboard.Sink

	history *history.Buffer
	shift   *history.ShiftDetector
	slowCh  chan slowResult

	phase    Phase
	rails    snapshot.Rails
	hasRails bool
	host     snapshot.Host
	hasHost  bool
	profile  power.BatteryProfile
	battery  snapshot.BatteryInfo
	hasProf  bool
	health   dashboard.Health
	missing  int

	// shiftNow is set only on the tick that detected it.
	shiftNow *history.Shift
}

// New returns a scheduler emitting each merged state to sink.
func New(cfg Config, b backend.Backend, builder *dashboard.Builder, sink dashboard.Sink) *Scheduler {
	cfg = cfg.withDefaults()
	if builder == nil {
		builder = dashboard.NewBuilder(0, nil, nil)
	}
	if sink == nil {
		sink = func(dashboard.State) {}
	}

	return &Scheduler{
		cfg:     cfg,
		backend: b,
		builder: builder,
		sink:    sink,
		history: history.New(cfg.HistorySize, cfg.FastInterval),
		shift:   history.NewShiftDetector(cfg.ShiftThreshold, cfg.FastInterval),
		slowCh:  make(chan slowResult, 1),
		phase:   PhaseIdle,
	}
}

// Probe takes one fast sample to confirm the backend answers at all. Its
// failure is fatal for the caller.
func (s *Scheduler) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	if r, ok := s.backend.(interface{ Ready(context.Context) error }); ok {
		if err := r.Ready(ctx); err != nil {
			return errors.New().Wrap(ErrBackendUnreachable, err)
		}
	}

	rails, err := s.sampleFast(ctx)
	if err != nil {
		return errors.New().Wrap(ErrBackendUnreachable, err)
	}
	s.acceptRails(rails)

	return nil
}

// Snapshot probes the backend, takes one slow sample and returns the merged
// state without starting the cadences.
func (s *Scheduler) Snapshot(ctx context.Context) (dashboard.State, error) {
	if err := s.Probe(ctx); err != nil {
		return dashboard.State{}, err
	}

	s.acceptSlow(s.sampleSlow(ctx))

	return s.merge(), nil
}

// Run probes the backend, then samples until ctx is done. It returns an
// error only when the probe fails.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Probe(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.slowLoop(ctx)
	}()
	defer wg.Wait()

	logger.Debug().
		Dur("fast_interval", s.cfg.FastInterval).
		Dur("slow_interval", s.cfg.SlowInterval).
		Dur("sample_timeout", s.cfg.SampleTimeout).
		Int("history_size", s.cfg.HistorySize).
		Msg("Scheduler started")

	s.sink(s.merge())

	ticker := time.NewTicker(s.cfg.FastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.setPhase(PhaseSampling)
	s.shiftNow = nil

	rails, err := s.sampleFast(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		s.setPhase(PhaseIdle)
		return
	case err != nil:
		s.health.FastFailures++
		s.health.RailsStale = s.hasRails
		logger.Warn().Err(err).Uint64("failures", s.health.FastFailures).Msg("Fast sample failed, keeping previous rails")
	default:
		s.acceptRails(rails)
	}

	select {
	case res := <-s.slowCh:
		s.acceptSlow(res)
	default:
	}

	s.setPhase(PhaseMerging)
	s.sink(s.merge())
	s.setPhase(PhaseIdle)
}

func (s *Scheduler) slowLoop(ctx context.Context) {
	s.handoff(s.sampleSlow(ctx))

	ticker := time.NewTicker(s.cfg.SlowInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := s.sampleSlow(ctx)
			if ctx.Err() != nil {
				return
			}
			s.handoff(res)
		}
	}
}

// handoff replaces any result the fast loop has not picked up yet. The slow
// worker is the only writer, so the send after draining cannot block.
func (s *Scheduler) handoff(res slowResult) {
	select {
	case s.slowCh <- res:
	default:
		select {
		case <-s.slowCh:
		default:
		}
		s.slowCh <- res
	}
}

// sampleFast calls the backend under the sample timeout, retrying once at
// once when the payload was undecodable.
func (s *Scheduler) sampleFast(ctx context.Context) (snapshot.Rails, error) {
	rails, err := s.callFast(ctx)
	if errors.HasCode(err, ErrSampleInvalid) {
		s.health.InvalidSamples++
		logger.Debug().Err(err).Msg("Invalid fast sample, retrying")
		rails, err = s.callFast(ctx)
		if errors.HasCode(err, ErrSampleInvalid) {
			s.health.InvalidSamples++
		}
	}

	return rails, err
}

func (s *Scheduler) callFast(ctx context.Context) (snapshot.Rails, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SampleTimeout)
	defer cancel()

	return s.backend.SampleFast(ctx)
}

func (s *Scheduler) sampleSlow(ctx context.Context) slowResult {
	var res slowResult

	res.host, res.err = s.callSlow(ctx)
	if errors.HasCode(res.err, ErrSampleInvalid) {
		res.invalid++
		res.host, res.err = s.callSlow(ctx)
		if errors.HasCode(res.err, ErrSampleInvalid) {
			res.invalid++
		}
	}

	return res
}

func (s *Scheduler) callSlow(ctx context.Context) (snapshot.Host, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SampleTimeout)
	defer cancel()

	return s.backend.SampleSlow(ctx)
}

func (s *Scheduler) acceptRails(rails snapshot.Rails) {
	s.rails = rails
	s.hasRails = true
	s.health.RailsStale = false

	s.history.Push(rails.Power.TotalMW)

	if shift, ok := s.shift.Observe(rails.Power.TotalMW, rails.At); ok {
		logger.Info().
			Float64("delta_pct", shift.DeltaPct).
			Float64("current_mw", shift.CurrentMW).
			Msg("Power shift detected")
		s.shiftNow = &shift
	}
}

func (s *Scheduler) acceptSlow(res slowResult) {
	s.health.InvalidSamples += res.invalid

	if res.err != nil {
		s.health.SlowFailures++
		s.health.HostStale = s.hasHost
		logger.Warn().Err(res.err).Uint64("failures", s.health.SlowFailures).Msg("Slow sample failed, keeping previous host state")
		return
	}

	s.host = res.host
	s.hasHost = true
	s.health.HostStale = false

	if !s.hasProf || res.host.Battery != s.battery {
		s.profile = power.NewBatteryProfile(res.host.Battery)
		s.battery = res.host.Battery
		s.hasProf = true
		logger.Debug().
			Float64("capacity_wh", s.profile.CapacityWh).
			Bool("estimated", s.profile.Estimated).
			Msg("Battery profile computed")
	}
}

func (s *Scheduler) merge() dashboard.State {
	profile := s.profile
	if !s.hasProf {
		profile = power.NewBatteryProfile(snapshot.BatteryInfo{})
	}

	health := s.health
	health.Missing = s.collectMissing()

	return s.builder.Build(dashboard.Input{
		Rails:         s.rails,
		Host:          s.host,
		HasRails:      s.hasRails,
		HasHost:       s.hasHost,
		MeanMW:        s.history.Mean(s.rails.Power.TotalMW),
		WindowMinutes: s.history.WindowMinutes(),
		Profile:       profile,
		Shift:         s.shiftNow,
		Health:        health,
	})
}

func (s *Scheduler) collectMissing() []string {
	var missing []string
	if s.hasRails {
		missing = append(missing, s.rails.Missing...)
	}
	if s.hasHost {
		missing = append(missing, s.host.Missing...)
	}

	if len(missing) != s.missing {
		s.missing = len(missing)
		logger.Debug().Strs("fields", missing).Msg(errors.GetErrorMessage(errors.ErrSensorMissing))
	}

	return missing
}

func (s *Scheduler) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.phase = p
	logger.Debug().Str("phase", string(p)).Msg("Scheduler phase")
}
