package snapshot

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
)

const (
	milliwattsPerWatt = 1000.0
	minPlausibleTempC = 0.0
	maxPlausibleTempC = 150.0
)

// alias is one payload key for a field and the factor converting it to the
// field's canonical unit.
type alias struct {
	key   string
	scale float64
}

func mw(key string) alias { return alias{key: key, scale: 1} }
func w(key string) alias { return alias{key: key, scale: milliwattsPerWatt} }
func as(key string) alias { return alias{key: key, scale: 1} }

var (
	totalPower     = []alias{w("sys_w"), w("power_w"), mw("sys_mw"), mw("total_mw")}
	cpuPower       = []alias{mw("cpu_mw"), w("cpu_w")}
	gpuPower       = []alias{mw("gpu_mw"), w("gpu_w")}
	anePower       = []alias{mw("ane_mw"), w("ane_w")}
	memoryPower    = []alias{mw("mem_mw"), w("mem_power_w"), w("mem_w")}
	wifiPower      = []alias{mw("wifi_mw"), w("wifi_w")}
	ssdPower       = []alias{mw("ssd_mw"), w("ssd_w")}
	bluetoothPower = []alias{mw("bt_mw"), w("bt_w")}
	batteryRail    = []alias{w("bat_power_w"), mw("bat_power_mw"), mw("battery_rail_mw")}

	cpuTemp     = []alias{as("cpu_temp")}
	gpuTemp     = []alias{as("gpu_temp")}
	memoryTemp  = []alias{as("mem_temp")}
	ssdTemp     = []alias{as("ssd_temp")}
	batteryTemp = []alias{as("bat_temp")}

	batteryPercent  = []alias{as("battery_pct"), as("battery_percent")}
	memoryFree      = []alias{as("mem_free_pct"), as("mem_available_pct")}
	wakeupsTotal    = []alias{as("wakeups_per_sec"), as("wakeups_per_s")}
	designCapacity  = []alias{as("design_mah")}
	nominalCapacity = []alias{as("nominal_mah")}
	healthPct       = []alias{as("health_pct")}
	cycleCount      = []alias{as("cycle_count")}

	processTables  = []string{"processes", "top_cpu", "high_wakeups"}
	processCPU     = []alias{as("cpu_ms_per_s"), as("cpu_ms")}
	processWakeups = []alias{as("wakeups_per_s"), as("wakeups")}
)

// payload is one decoded JSON object.
type payload struct {
	fields  map[string]json.RawMessage
	missing []string
}

func parse(raw []byte) (*payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.New().Wrap(ErrSampleInvalid, err)
	}
	if fields == nil {
		return nil, errors.New().WithData(ErrSampleInvalid, "payload is not an object")
	}

	return &payload{fields: fields}, nil
}

// Decode adapts one raw payload into a Snapshot. Absent or non-numeric
// fields are recorded in Missing; only an undecodable payload is an error.
func Decode(raw []byte, at time.Time) (Snapshot, error) {
	p, err := parse(raw)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{Rails: p.rails(at), Host: p.host(at)}, nil
}

// DecodeRails adapts only the fast-cadence fields of a payload.
func DecodeRails(raw []byte, at time.Time) (Rails, error) {
	p, err := parse(raw)
	if err != nil {
		return Rails{}, err
	}

	return p.rails(at), nil
}

// DecodeHost adapts only the slow-cadence fields of a payload.
func DecodeHost(raw []byte, at time.Time) (Host, error) {
	p, err := parse(raw)
	if err != nil {
		return Host{}, err
	}

	return p.host(at), nil
}

func (p *payload) rails(at time.Time) Rails {
	p.missing = nil

	r := Rails{
		At: at,
		Power: Power{
			TotalMW:       p.rate("total_power", totalPower),
			CPUMW:         p.rate("cpu_power", cpuPower),
			GPUMW:         p.rate("gpu_power", gpuPower),
			ANEMW:         p.rate("ane_power", anePower),
			MemoryMW:      p.reading("memory_power", memoryPower, 0, math.Inf(1)),
			WiFiMW:        p.rate("wifi_power", wifiPower),
			SSDMW:         p.rate("ssd_power", ssdPower),
			BluetoothMW:   p.rate("bluetooth_power", bluetoothPower),
			BatteryRailMW: p.reading("battery_rail", batteryRail, 0, math.Inf(1)),
		},
		Temps: Temperatures{
			CPU:     p.temperature("cpu_temp", cpuTemp),
			GPU:     p.temperature("gpu_temp", gpuTemp),
			Memory:  p.temperature("mem_temp", memoryTemp),
			SSD:     p.temperature("ssd_temp", ssdTemp),
			Battery: p.temperature("bat_temp", batteryTemp),
		},
	}
	r.Missing = p.missing

	return r
}

func (p *payload) host(at time.Time) Host {
	p.missing = nil

	h := Host{
		At:                 at,
		BatteryPercent:     p.reading("battery_pct", batteryPercent, 0, 100),
		Charging:           p.flag("charging"),
		AvailableMemoryPct: p.reading("mem_free_pct", memoryFree, 0, 100),
		Processes:          p.processes(),
		Battery: BatteryInfo{
			DesignMAh:  p.reading("design_mah", designCapacity, 1, math.Inf(1)),
			NominalMAh: p.reading("nominal_mah", nominalCapacity, 1, math.Inf(1)),
			HealthPct:  p.reading("health_pct", healthPct, 1, 200),
			CycleCount: int(p.rate("cycle_count", cycleCount)),
		},
	}

	if v, ok := p.number(wakeupsTotal); ok {
		h.WakeupsPerSec = math.Max(0, v)
	} else {
		p.missing = append(p.missing, "wakeups_per_sec")
		h.WakeupsPerSec = SumWakeups(h.Processes)
	}
	h.Missing = p.missing

	return h
}

// rate reads a power or rate field, defaulting to zero.
func (p *payload) rate(name string, aliases []alias) float64 {
	v, ok := p.number(aliases)
	if !ok {
		p.missing = append(p.missing, name)
		return 0
	}

	return math.Max(0, v)
}

// reading reads a field that must stay distinguishable from zero when
// absent. Values outside [lo, hi] are treated as absent.
func (p *payload) reading(name string, aliases []alias, lo, hi float64) Reading {
	v, ok := p.number(aliases)
	if !ok || v < lo || v > hi {
		p.missing = append(p.missing, name)
		return Unavailable
	}

	return Measured(v)
}

// temperature reads a sensor in °C. Sensor helpers report 0 when no key of
// a family was readable, so only the open range (0, 150) counts.
func (p *payload) temperature(name string, aliases []alias) Reading {
	v, ok := p.number(aliases)
	if !ok || v <= minPlausibleTempC || v >= maxPlausibleTempC {
		p.missing = append(p.missing, name)
		return Unavailable
	}

	return Measured(v)
}

func (p *payload) number(aliases []alias) (float64, bool) {
	for _, a := range aliases {
		raw, ok := p.fields[a.key]
		if !ok {
			continue
		}
		if v, ok := toNumber(raw); ok {
			return v * a.scale, true
		}
	}

	return 0, false
}

func (p *payload) flag(name string) bool {
	raw, ok := p.fields[name]
	if !ok {
		p.missing = append(p.missing, name)
		return false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1", "charging", "charged", "ac":
			return true
		}
		return false
	}

	if v, ok := toNumber(raw); ok {
		return v != 0
	}

	p.missing = append(p.missing, name)
	return false
}

func (p *payload) processes() []ProcessRecord {
	var out []ProcessRecord
	// Rows of earlier tables. Names are not unique, so identical rows
	// within one table are distinct processes.
	earlier := make(map[ProcessRecord]struct{})

	for _, key := range processTables {
		raw, ok := p.fields[key]
		if !ok {
			continue
		}

		var rows []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			continue
		}

		var table []ProcessRecord
		for _, row := range rows {
			rec, ok := processRecord(row)
			if !ok {
				continue
			}
			// top_cpu and high_wakeups overlap in helper output.
			if _, dup := earlier[rec]; dup {
				continue
			}
			table = append(table, rec)
		}
		for _, rec := range table {
			earlier[rec] = struct{}{}
		}
		out = append(out, table...)

		if key == "processes" {
			break
		}
	}

	if len(out) == 0 {
		p.missing = append(p.missing, "processes")
	}

	return out
}

func processRecord(row map[string]json.RawMessage) (ProcessRecord, bool) {
	var name string
	if raw, ok := row["name"]; !ok || json.Unmarshal(raw, &name) != nil || strings.TrimSpace(name) == "" {
		return ProcessRecord{}, false
	}

	fields := &payload{fields: row}
	cpu, _ := fields.number(processCPU)
	wakeups, _ := fields.number(processWakeups)

	return ProcessRecord{
		Name:          strings.TrimSpace(name),
		CPUMsPerSec:   math.Max(0, cpu),
		WakeupsPerSec: math.Max(0, wakeups),
	}, true
}

func toNumber(raw json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	return v, true
}

// SumWakeups totals the wakeup rates of a process table.
func SumWakeups(procs []ProcessRecord) float64 {
	var total float64
	for _, p := range procs {
		total += p.WakeupsPerSec
	}

	return total
}
