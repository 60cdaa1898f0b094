package snapshot_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const fullPayload = `{
	"cpu_temp": 52.5, "gpu_temp": 48, "mem_temp": 41, "ssd_temp": 38, "bat_temp": 31,
	"power_w": 12.5, "bat_power_w": 14.0, "mem_power_w": 0.4,
	"cpu_mw": 4200, "gpu_mw": 1100, "ane_mw": 0, "wifi_mw": 150, "ssd_mw": 90, "bt_mw": 10,
	"battery_pct": 80, "charging": false, "cycle_count": 212,
	"mem_free_pct": 22, "wakeups_per_sec": 640,
	"design_mah": 4382, "nominal_mah": 4100, "health_pct": 94,
	"top_cpu": [
		{"name": "Safari", "cpu_ms": 350, "wakeups": 120},
		{"name": "kernel_task", "cpu_ms": 90, "wakeups": 800}
	],
	"high_wakeups": [
		{"name": "kernel_task", "cpu_ms": 90, "wakeups": 800},
		{"name": "Dropbox", "cpu_ms": 5, "wakeups": 240}
	]
}`

func TestDecodeFullPayload(t *testing.T) {
	s, err := snapshot.Decode([]byte(fullPayload), sampleAt)
	require.NoError(t, err)

	assert.Equal(t, sampleAt, s.At())
	assert.InDelta(t, 12500, s.Power.TotalMW, 1e-9)
	assert.InDelta(t, 4200, s.Power.CPUMW, 1e-9)
	assert.InDelta(t, 0, s.Power.ANEMW, 1e-9)
	assert.Equal(t, snapshot.Measured(400), s.Power.MemoryMW)
	assert.Equal(t, snapshot.Measured(14000), s.Power.BatteryRailMW)
	assert.Equal(t, snapshot.Measured(52.5), s.Temps.CPU)
	assert.Equal(t, snapshot.Measured(80), s.BatteryPercent)
	assert.False(t, s.Charging)
	assert.Equal(t, snapshot.Measured(22), s.AvailableMemoryPct)
	assert.InDelta(t, 640, s.WakeupsPerSec, 1e-9)
	assert.Equal(t, 212, s.Battery.CycleCount)
	assert.Equal(t, snapshot.Measured(4100), s.Battery.NominalMAh)
	assert.Empty(t, s.Missing())

	// The duplicated kernel_task row appears once.
	require.Len(t, s.Processes, 3)
	assert.Equal(t, "Safari", s.Processes[0].Name)
	assert.Equal(t, "kernel_task", s.Processes[1].Name)
	assert.Equal(t, "Dropbox", s.Processes[2].Name)
}

func TestDecodeMissingFieldsAreUnavailable(t *testing.T) {
	s, err := snapshot.Decode([]byte(`{"sys_w": 8, "cpu_mw": "N/A"}`), sampleAt)
	require.NoError(t, err)

	assert.InDelta(t, 8000, s.Power.TotalMW, 1e-9)
	assert.Zero(t, s.Power.CPUMW)
	assert.False(t, s.Power.MemoryMW.Valid)
	assert.False(t, s.Power.BatteryRailMW.Valid)
	assert.False(t, s.Temps.GPU.Valid)
	assert.False(t, s.BatteryPercent.Valid)
	assert.False(t, s.AvailableMemoryPct.Valid)

	missing := s.Missing()
	assert.Contains(t, missing, "cpu_power")
	assert.Contains(t, missing, "battery_rail")
	assert.Contains(t, missing, "gpu_temp")
	assert.Contains(t, missing, "battery_pct")
	assert.Contains(t, missing, "wakeups_per_sec")
	assert.NotContains(t, missing, "total_power")
}

func TestDecodeTemperatureRange(t *testing.T) {
	s, err := snapshot.Decode([]byte(`{"cpu_temp": 0, "gpu_temp": 151, "mem_temp": -4, "ssd_temp": 149.9}`), sampleAt)
	require.NoError(t, err)

	assert.False(t, s.Temps.CPU.Valid)
	assert.False(t, s.Temps.GPU.Valid)
	assert.False(t, s.Temps.Memory.Valid)
	assert.Equal(t, snapshot.Measured(149.9), s.Temps.SSD)
}

func TestDecodeWakeupsFallBackToProcessSum(t *testing.T) {
	payload := `{"processes": [
		{"name": "a", "cpu_ms_per_s": 1, "wakeups_per_s": 10},
		{"name": "b", "cpu_ms_per_s": 2, "wakeups_per_s": 15.5},
		{"cpu_ms_per_s": 9, "wakeups_per_s": 99}
	]}`

	h, err := snapshot.DecodeHost([]byte(payload), sampleAt)
	require.NoError(t, err)

	require.Len(t, h.Processes, 2)
	assert.InDelta(t, 25.5, h.WakeupsPerSec, 1e-9)
	assert.Contains(t, h.Missing, "wakeups_per_sec")
}

func TestDecodeKeepsIdenticalProcessRows(t *testing.T) {
	payload := `{"processes": [
		{"name": "node", "cpu_ms_per_s": 4, "wakeups_per_s": 200},
		{"name": "node", "cpu_ms_per_s": 4, "wakeups_per_s": 200}
	]}`

	h, err := snapshot.DecodeHost([]byte(payload), sampleAt)
	require.NoError(t, err)

	assert.Len(t, h.Processes, 2)
	assert.InDelta(t, 400, h.WakeupsPerSec, 1e-9)
}

func TestDecodeMergesOverlappingProcessTables(t *testing.T) {
	payload := `{
		"top_cpu": [
			{"name": "node", "cpu_ms": 4, "wakeups": 200},
			{"name": "node", "cpu_ms": 4, "wakeups": 200},
			{"name": "Safari", "cpu_ms": 30, "wakeups": 5}
		],
		"high_wakeups": [
			{"name": "node", "cpu_ms": 4, "wakeups": 200},
			{"name": "bluetoothd", "cpu_ms": 1, "wakeups": 350}
		]
	}`

	h, err := snapshot.DecodeHost([]byte(payload), sampleAt)
	require.NoError(t, err)

	require.Len(t, h.Processes, 4)
	assert.Equal(t, "bluetoothd", h.Processes[3].Name)
}

func TestDecodeChargingForms(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`true`, true},
		{`"charging"`, true},
		{`"discharging"`, false},
		{`1`, true},
		{`0`, false},
	}

	for _, tt := range tests {
		h, err := snapshot.DecodeHost([]byte(`{"charging": `+tt.raw+`}`), sampleAt)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, h.Charging, tt.raw)
	}
}

func TestDecodeRejectsNonObject(t *testing.T) {
	for _, raw := range []string{``, `not json`, `[1,2]`, `null`, `42`} {
		_, err := snapshot.Decode([]byte(raw), sampleAt)
		require.Error(t, err, raw)
		assert.True(t, errors.HasCode(err, snapshot.ErrSampleInvalid), raw)
	}
}

func TestDecodeRailsIgnoresHostFields(t *testing.T) {
	r, err := snapshot.DecodeRails([]byte(`{"display_w": 3, "sys_w": 10, "cpu_mw": 500}`), sampleAt)
	require.NoError(t, err)

	assert.InDelta(t, 10000, r.Power.TotalMW, 1e-9)
	assert.NotContains(t, r.Missing, "battery_pct")
}

func TestHottest(t *testing.T) {
	temps := snapshot.Temperatures{
		CPU: snapshot.Measured(61),
		GPU: snapshot.Measured(73),
	}
	assert.Equal(t, snapshot.Measured(73), temps.Hottest())
	assert.False(t, snapshot.Temperatures{}.Hottest().Valid)
}

func TestReadingJSON(t *testing.T) {
	b, err := snapshot.Unavailable.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = snapshot.Measured(1.5).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(b))
}
