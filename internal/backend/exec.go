package backend

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultSensorCommand prints one JSON record of SMC rails and temperatures.
var DefaultSensorCommand = []string{"kim_temp", "json-fast"}

var (
	powermetricsArgs = []string{"-n", "1", "-i", "100", "--samplers", "cpu_power,tasks"}
	pmsetArgs        = []string{"-g", "batt"}
	ioregArgs        = []string{"-r", "-c", "AppleSmartBattery"}
)

// ExecConfig selects the commands the Exec backend runs.
type ExecConfig struct {
	// SensorCommand produces the fast-cadence JSON record.
	SensorCommand []string
	// HostCommand, when set, produces the slow-cadence JSON record instead
	// of the built-in powermetrics, pmset and gopsutil collectors.
	HostCommand []string
	// PrivilegePrefix is prepended to the powermetrics invocation, which
	// needs root. For example {"sudo", "-n"}.
	PrivilegePrefix []string
}

// Exec samples by running local tools.
type Exec struct {
	cfg    ExecConfig
	run    Runner
	now    func() time.Time
	memory func(ctx context.Context) (float64, error)

	mu      sync.Mutex
	battery *snapshot.BatteryInfo
}

// NewExec returns an Exec backend. A nil runner runs real commands.
func NewExec(cfg ExecConfig, run Runner) *Exec {
	if len(cfg.SensorCommand) == 0 {
		cfg.SensorCommand = DefaultSensorCommand
	}
	if run == nil {
		run = runCmd
	}

	return &Exec{
		cfg:    cfg,
		run:    run,
		now:    time.Now,
		memory: availableMemoryPct,
	}
}

func (e *Exec) SampleFast(ctx context.Context) (snapshot.Rails, error) {
	out, err := e.run(ctx, e.cfg.SensorCommand[0], e.cfg.SensorCommand[1:]...)
	if err != nil {
		return snapshot.Rails{}, errors.New().Wrap(ErrSampleUnavailable, err)
	}

	return snapshot.DecodeRails(out, e.now())
}

func (e *Exec) SampleSlow(ctx context.Context) (snapshot.Host, error) {
	if len(e.cfg.HostCommand) > 0 {
		out, err := e.run(ctx, e.cfg.HostCommand[0], e.cfg.HostCommand[1:]...)
		if err != nil {
			return snapshot.Host{}, errors.New().Wrap(ErrSampleUnavailable, err)
		}
		return snapshot.DecodeHost(out, e.now())
	}

	// The process table is the one source without a fallback.
	out, err := e.runPowermetrics(ctx)
	if err != nil {
		return snapshot.Host{}, errors.New().Wrap(ErrSampleUnavailable, err)
	}
	tasks := parseTasks(out)

	h := snapshot.Host{
		At:                 e.now(),
		Processes:          tasks.processes,
		WakeupsPerSec:      tasks.totalWakeups,
		BatteryPercent:     snapshot.Unavailable,
		AvailableMemoryPct: snapshot.Unavailable,
	}

	if out, err := e.run(ctx, "pmset", pmsetArgs...); err != nil {
		h.Missing = append(h.Missing, "battery_pct", "charging")
		logger.Debug().Err(err).Str("source", "pmset").Msg("Host source failed")
	} else if batt, err := parsePmset(out); err != nil {
		h.Missing = append(h.Missing, "battery_pct", "charging")
		logger.Debug().Err(err).Str("source", "pmset").Msg("Host source unparsable")
	} else {
		h.BatteryPercent = batt.percent
		h.Charging = batt.charging
	}

	if pct, err := e.memory(ctx); err != nil {
		h.Missing = append(h.Missing, "mem_free_pct")
		logger.Debug().Err(err).Str("source", "memory").Msg("Host source failed")
	} else {
		h.AvailableMemoryPct = snapshot.Measured(pct)
	}

	// A sample that ran past its deadline is a failure even when some
	// collectors returned in time.
	if err := ctx.Err(); err != nil {
		return snapshot.Host{}, errors.New().Wrap(ErrSampleUnavailable, errors.New().Wrap(ErrTimeout, err))
	}

	h.Battery = e.batteryInfo(ctx)

	return h, nil
}

func (e *Exec) runPowermetrics(ctx context.Context) ([]byte, error) {
	if len(e.cfg.PrivilegePrefix) == 0 {
		return e.run(ctx, "powermetrics", powermetricsArgs...)
	}

	args := make([]string, 0, len(e.cfg.PrivilegePrefix)+len(powermetricsArgs))
	args = append(args, e.cfg.PrivilegePrefix[1:]...)
	args = append(args, "powermetrics")
	args = append(args, powermetricsArgs...)

	return e.run(ctx, e.cfg.PrivilegePrefix[0], args...)
}

// RefreshBattery drops the cached battery capacity so the next slow sample
// reads it again.
func (e *Exec) RefreshBattery() {
	e.mu.Lock()
	e.battery = nil
	e.mu.Unlock()
}

func (e *Exec) batteryInfo(ctx context.Context) snapshot.BatteryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.battery != nil {
		return *e.battery
	}

	out, err := e.run(ctx, "ioreg", ioregArgs...)
	if err != nil {
		logger.Debug().Err(err).Str("source", "ioreg").Msg("Battery capacity unavailable")
		return snapshot.BatteryInfo{}
	}

	info := parseIoreg(out)
	e.battery = &info

	return info
}

func availableMemoryPct(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if vm.Total == 0 {
		return 0, errors.New().WithData(ErrParseOutput, "zero total memory")
	}

	return float64(vm.Available) / float64(vm.Total) * 100, nil
}
