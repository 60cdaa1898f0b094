package backend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   map[string]int
	args    map[string][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
		args:    make(map[string][]string),
	}
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls[name]++
	f.args[name] = args
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	out, ok := f.outputs[name]
	if !ok {
		return nil, fmt.Errorf("%s: not found", name)
	}

	return []byte(out), nil
}

func newTestExec(cfg ExecConfig, f *fakeRunner) *Exec {
	e := NewExec(cfg, f.run)
	e.now = func() time.Time { return time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC) }
	e.memory = func(context.Context) (float64, error) { return 42, nil }

	return e
}

func TestExecSampleFast(t *testing.T) {
	f := newFakeRunner()
	f.outputs["kim_temp"] = `{"sys_w": 9.5, "cpu_mw": 3100, "cpu_temp": 55}`

	rails, err := newTestExec(ExecConfig{}, f).SampleFast(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 9500, rails.Power.TotalMW, 1e-9)
	assert.InDelta(t, 55, rails.Temps.CPU.Value, 1e-9)
}

func TestExecSampleFastErrors(t *testing.T) {
	f := newFakeRunner()
	f.errs["kim_temp"] = fmt.Errorf("exit status 1")

	_, err := newTestExec(ExecConfig{}, f).SampleFast(context.Background())
	assert.Equal(t, ErrSampleUnavailable, errors.CodeOf(err))

	f = newFakeRunner()
	f.outputs["kim_temp"] = "SMC open failed"

	_, err = newTestExec(ExecConfig{}, f).SampleFast(context.Background())
	assert.Equal(t, ErrSampleInvalid, errors.CodeOf(err))
}

func TestExecSampleSlowNative(t *testing.T) {
	f := newFakeRunner()
	f.outputs["powermetrics"] = powermetricsTasks
	f.outputs["pmset"] = "Now drawing from 'Battery Power'\n -InternalBattery-0 (id=1)\t71%; discharging; 4:00 remaining present: true\n"
	f.outputs["ioreg"] = "  \"DesignCapacity\" = 4382\n  \"NominalChargeCapacity\" = 4100\n"

	e := newTestExec(ExecConfig{}, f)
	h, err := e.SampleSlow(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.Processes, 3)
	assert.InDelta(t, 71, h.BatteryPercent.Value, 1e-9)
	assert.False(t, h.Charging)
	assert.InDelta(t, 42, h.AvailableMemoryPct.Value, 1e-9)
	assert.InDelta(t, 4100, h.Battery.NominalMAh.Value, 1e-9)
	assert.Empty(t, h.Missing)

	_, err = e.SampleSlow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls["ioreg"], "battery capacity is cached")

	e.RefreshBattery()
	_, err = e.SampleSlow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls["ioreg"])
}

func TestExecSampleSlowPartialFailure(t *testing.T) {
	f := newFakeRunner()
	f.outputs["powermetrics"] = powermetricsTasks
	f.errs["pmset"] = fmt.Errorf("exit status 1")

	e := newTestExec(ExecConfig{}, f)
	e.memory = func(context.Context) (float64, error) { return 0, fmt.Errorf("no vm stats") }

	h, err := e.SampleSlow(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.Processes, 3)
	assert.False(t, h.BatteryPercent.Valid)
	assert.False(t, h.AvailableMemoryPct.Valid)
	assert.ElementsMatch(t, []string{"battery_pct", "charging", "mem_free_pct"}, h.Missing)
}

func TestExecSampleSlowProcessTableFails(t *testing.T) {
	f := newFakeRunner()
	f.outputs["pmset"] = "\t55%; charging; 1:00 remaining present: true\n"

	_, err := newTestExec(ExecConfig{}, f).SampleSlow(context.Background())
	assert.Equal(t, ErrSampleUnavailable, errors.CodeOf(err))
	assert.Zero(t, f.calls["pmset"], "no partial host without a process table")
}

func TestExecSampleSlowPastDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	blocking := func(ctx context.Context, name string, _ ...string) ([]byte, error) {
		if name == "powermetrics" {
			<-ctx.Done()
			return []byte(powermetricsTasks), nil
		}
		return nil, ctx.Err()
	}
	e := NewExec(ExecConfig{}, blocking)
	e.memory = func(context.Context) (float64, error) { return 40, nil }

	_, err := e.SampleSlow(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrSampleUnavailable, errors.CodeOf(err))
	assert.True(t, errors.HasCode(err, ErrTimeout))
}

func TestExecPrivilegePrefix(t *testing.T) {
	f := newFakeRunner()
	f.outputs["sudo"] = powermetricsTasks
	f.outputs["pmset"] = "\t55%; charging; 1:00 remaining present: true\n"

	e := newTestExec(ExecConfig{PrivilegePrefix: []string{"sudo", "-n"}}, f)
	h, err := e.SampleSlow(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.Processes, 3)
	assert.Zero(t, f.calls["powermetrics"])
	assert.Equal(t, append([]string{"-n", "powermetrics"}, powermetricsArgs...), f.args["sudo"])
}

func TestExecSampleSlowHostCommand(t *testing.T) {
	f := newFakeRunner()
	f.outputs["kim_temp"] = `{"battery_pct": 90, "charging": true, "mem_free_pct": 33, "wakeups_per_sec": 210,
		"top_cpu": [{"name": "Xcode", "cpu_ms": 120, "wakeups": 10}]}`

	e := newTestExec(ExecConfig{HostCommand: []string{"kim_temp", "json"}}, f)
	h, err := e.SampleSlow(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 90, h.BatteryPercent.Value, 1e-9)
	assert.InDelta(t, 210, h.WakeupsPerSec, 1e-9)
	require.Len(t, h.Processes, 1)
	assert.Zero(t, f.calls["powermetrics"])
}

func TestRunCmdHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runCmd(ctx, "sleep", "5")
	assert.Equal(t, ErrTimeout, errors.CodeOf(err))
}
