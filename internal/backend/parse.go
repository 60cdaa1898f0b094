package backend

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/snapshot"
)

var (
	// Name  ID  CPU ms/s  User%  Deadlines (<2 ms, 2-5 ms)  Wakeups (Intr, Pkg idle)
	taskLineRegex = regexp.MustCompile(`^(.+?)\s+(-?\d+)\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s*$`)
	pmsetRegex    = regexp.MustCompile(`(\d+(?:\.\d+)?)%;\s*([^;]+);`)
	ioregRegex    = regexp.MustCompile(`^\s*"(\w+)"\s*=\s*(\d+)\s*$`)
)

// Rows in the tasks table that aggregate other rows.
const (
	deadTasksRow = "DEAD_TASKS"
	allTasksRow  = "ALL_TASKS"
)

type tasks struct {
	processes    []snapshot.ProcessRecord
	totalWakeups float64
}

// parseTasks reads the "Running tasks" table of powermetrics output. The
// aggregate wakeup rate is the sum over every row, including exited tasks,
// unless the table carries its own total.
func parseTasks(out []byte) tasks {
	var (
		t        tasks
		inTable  bool
		allTotal = -1.0
	)

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.Contains(trimmed, "Running tasks"):
			inTable = true
			continue
		case !inTable:
			continue
		case strings.HasPrefix(trimmed, "*"):
			inTable = false
			continue
		case trimmed == "" || strings.HasPrefix(trimmed, "Name"):
			continue
		}

		m := taskLineRegex.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		name := strings.TrimSpace(m[1])
		cpu, _ := strconv.ParseFloat(m[3], 64)
		wakeups, _ := strconv.ParseFloat(m[7], 64)

		switch name {
		case allTasksRow:
			allTotal = wakeups
			continue
		case deadTasksRow:
			t.totalWakeups += wakeups
			continue
		}

		t.totalWakeups += wakeups
		t.processes = append(t.processes, snapshot.ProcessRecord{
			Name:          name,
			CPUMsPerSec:   cpu,
			WakeupsPerSec: wakeups,
		})
	}

	if allTotal >= 0 {
		t.totalWakeups = allTotal
	}

	return t
}

type batteryState struct {
	percent  snapshot.Reading
	charging bool
}

// parsePmset reads the internal battery line of `pmset -g batt`, e.g.
//
//	-InternalBattery-0 (id=4653155)	80%; discharging; 5:12 remaining present: true
func parsePmset(out []byte) (batteryState, error) {
	m := pmsetRegex.FindSubmatch(out)
	if m == nil {
		return batteryState{}, errors.New().WithData(ErrParseOutput, "no battery line in pmset output")
	}

	pct, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil || pct < 0 || pct > 100 {
		return batteryState{}, errors.New().WithData(ErrParseOutput, string(m[1]))
	}

	state := strings.ToLower(strings.TrimSpace(string(m[2])))
	charging := state == "charging" || state == "finishing charge" ||
		(state != "discharging" && bytes.Contains(out, []byte("'AC Power'")))

	return batteryState{
		percent:  snapshot.Measured(pct),
		charging: charging,
	}, nil
}

// parseIoreg reads capacity fields from `ioreg -r -c AppleSmartBattery`.
// Absent fields stay unavailable.
func parseIoreg(out []byte) snapshot.BatteryInfo {
	var info snapshot.BatteryInfo

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := ioregRegex.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}

		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}

		switch m[1] {
		case "DesignCapacity":
			if v > 0 {
				info.DesignMAh = snapshot.Measured(v)
			}
		case "NominalChargeCapacity":
			if v > 0 {
				info.NominalMAh = snapshot.Measured(v)
			}
		case "AppleRawMaxCapacity":
			if !info.NominalMAh.Valid && v > 0 {
				info.NominalMAh = snapshot.Measured(v)
			}
		case "CycleCount":
			info.CycleCount = int(v)
		}
	}

	return info
}
