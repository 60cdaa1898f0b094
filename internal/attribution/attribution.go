// Package attribution ranks processes by CPU rate and flags wakeup-heavy
// processes that a CPU ranking misses.
package attribution

import (
	"sort"

	"codeberg.org/mutker/powerdash/internal/snapshot"
)

const (
	DefaultTopN             = 8
	DefaultWakeupThreshold  = 100.0
	DefaultAnomalyDisplayed = 3
)

// DefaultDenylist names system processes whose background wakeups are
// expected and must never be reported as anomalies.
var DefaultDenylist = []string{
	"kernel_task",
	"WindowServer",
	"powermetrics",
	"launchd",
	"powerd",
	"powerdash",
}

// TopByCPU returns the first n processes by CPU rate, highest first. Equal
// rates keep their table order. The input is not modified.
func TopByCPU(procs []snapshot.ProcessRecord, n int) []snapshot.ProcessRecord {
	if n <= 0 {
		n = DefaultTopN
	}

	sorted := make([]snapshot.ProcessRecord, len(procs))
	copy(sorted, procs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CPUMsPerSec > sorted[j].CPUMsPerSec
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}

	return sorted
}

// Anomaly is a process waking the CPU more often than the threshold.
type Anomaly struct {
	Name          string  `json:"name"`
	WakeupsPerSec float64 `json:"wakeups_per_s"`
}

// Anomalies is ordered by wakeup rate, highest first.
type Anomalies []Anomaly

// Top returns at most n anomalies for presentation.
func (a Anomalies) Top(n int) Anomalies {
	if n < 0 || len(a) <= n {
		return a
	}

	return a[:n]
}

// Detector finds wakeup anomalies in a process table.
type Detector struct {
	threshold float64
	deny      map[string]struct{}
}

// NewDetector returns a detector flagging rates strictly above threshold.
// A nil denylist selects DefaultDenylist.
func NewDetector(threshold float64, denylist []string) *Detector {
	if threshold <= 0 {
		threshold = DefaultWakeupThreshold
	}
	if denylist == nil {
		denylist = DefaultDenylist
	}

	deny := make(map[string]struct{}, len(denylist))
	for _, name := range denylist {
		deny[name] = struct{}{}
	}

	return &Detector{threshold: threshold, deny: deny}
}

// Threshold returns the wakeup rate a process must exceed.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Detect returns every non-denylisted process above the threshold.
func (d *Detector) Detect(procs []snapshot.ProcessRecord) Anomalies {
	var out Anomalies
	for _, p := range procs {
		if p.WakeupsPerSec <= d.threshold {
			continue
		}
		if _, denied := d.deny[p.Name]; denied {
			continue
		}
		out = append(out, Anomaly{Name: p.Name, WakeupsPerSec: p.WakeupsPerSec})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WakeupsPerSec > out[j].WakeupsPerSec
	})

	return out
}
