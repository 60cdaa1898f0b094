package attribution_test

import (
	"testing"

	"codeberg.org/mutker/powerdash/internal/attribution"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proc(name string, cpu, wakeups float64) snapshot.ProcessRecord {
	return snapshot.ProcessRecord{Name: name, CPUMsPerSec: cpu, WakeupsPerSec: wakeups}
}

func TestTopByCPUOrdersDescending(t *testing.T) {
	procs := []snapshot.ProcessRecord{
		proc("a", 10, 0),
		proc("b", 300, 0),
		proc("c", 50, 0),
	}

	top := attribution.TopByCPU(procs, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Name)
	assert.Equal(t, "c", top[1].Name)
	assert.Equal(t, "a", procs[0].Name, "input must not be reordered")
}

func TestTopByCPUTiesKeepTableOrder(t *testing.T) {
	procs := []snapshot.ProcessRecord{
		proc("first", 40, 0),
		proc("big", 90, 0),
		proc("second", 40, 0),
		proc("third", 40, 0),
	}

	top := attribution.TopByCPU(procs, 8)
	require.Len(t, top, 4)
	assert.Equal(t, "big", top[0].Name)
	assert.Equal(t, "first", top[1].Name)
	assert.Equal(t, "second", top[2].Name)
	assert.Equal(t, "third", top[3].Name)
}

func TestTopByCPUDefaultN(t *testing.T) {
	procs := make([]snapshot.ProcessRecord, 20)
	for i := range procs {
		procs[i] = proc("p", float64(i), 0)
	}
	assert.Len(t, attribution.TopByCPU(procs, 0), attribution.DefaultTopN)
}

func TestDetectExcludesDenylist(t *testing.T) {
	d := attribution.NewDetector(100, nil)

	got := d.Detect([]snapshot.ProcessRecord{
		proc("kernel_task", 0, 5000),
		proc("WindowServer", 30, 4000),
		proc("Dropbox", 0, 250),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "Dropbox", got[0].Name)
}

func TestDetectThresholdIsStrict(t *testing.T) {
	d := attribution.NewDetector(100, nil)

	got := d.Detect([]snapshot.ProcessRecord{
		proc("at", 0, 100),
		proc("above", 0, 101),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "above", got[0].Name)
	assert.InDelta(t, 101, got[0].WakeupsPerSec, 1e-9)
}

func TestDetectIgnoresCPURate(t *testing.T) {
	d := attribution.NewDetector(100, []string{})

	got := d.Detect([]snapshot.ProcessRecord{
		proc("busy", 900, 10),
		proc("idle-but-noisy", 0, 600),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "idle-but-noisy", got[0].Name)
}

func TestDetectOrdersByWakeupsAndCaps(t *testing.T) {
	d := attribution.NewDetector(50, []string{})

	got := d.Detect([]snapshot.ProcessRecord{
		proc("a", 0, 60),
		proc("b", 0, 900),
		proc("c", 0, 300),
		proc("d", 0, 300),
		proc("e", 0, 70),
	})

	require.Len(t, got, 5)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "c", got[1].Name)
	assert.Equal(t, "d", got[2].Name)

	top := got.Top(attribution.DefaultAnomalyDisplayed)
	assert.Len(t, top, 3)
	assert.Len(t, got.Top(10), 5)
}

func TestNewDetectorDefaults(t *testing.T) {
	d := attribution.NewDetector(0, nil)
	assert.InDelta(t, attribution.DefaultWakeupThreshold, d.Threshold(), 1e-9)
	assert.Empty(t, d.Detect([]snapshot.ProcessRecord{proc("powerdash", 0, 1e6)}))
}
