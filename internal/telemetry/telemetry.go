// Package telemetry exposes dashboard states as Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/classify"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "powerdash"

var tiers = []classify.Tier{
	classify.Unknown,
	classify.Normal,
	classify.Good,
	classify.Warning,
	classify.Critical,
}

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	states          prometheus.Counter
	powerShifts     prometheus.Counter
	fastFailures    prometheus.Counter
	slowFailures    prometheus.Counter
	invalidSamples  prometheus.Counter
	power           *prometheus.GaugeVec
	temperature     *prometheus.GaugeVec
	batteryPct      *prometheus.GaugeVec
	charging        prometheus.Gauge
	memoryAvailable *prometheus.GaugeVec
	wakeups         *prometheus.GaugeVec
	runway          *prometheus.GaugeVec
	tier            *prometheus.GaugeVec
	anomalies       *prometheus.GaugeVec
	stale           *prometheus.GaugeVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	mu        sync.Mutex
	last      dashboard.Health
	lastShift time.Time
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		states: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_total",
			Help:      "Total number of merged dashboard states",
		}),
		powerShifts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "power_shifts_total",
			Help:      "Total number of detected power shifts",
		}),
		fastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fast_sample_failures_total",
			Help:      "Failed rail samples",
		}),
		slowFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_sample_failures_total",
			Help:      "Failed host samples",
		}),
		invalidSamples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_samples_total",
			Help:      "Malformed samples that were retried",
		}),
		power: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_milliwatts",
			Help:      "Power draw per decomposition bucket",
		}, []string{"bucket"}),
		temperature: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Component temperature",
		}, []string{"sensor"}),
		batteryPct: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_percent",
			Help:      "Battery state of charge",
		}, nil),
		charging: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "charging",
			Help:      "1 while the battery is charging",
		}),
		memoryAvailable: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_available_percent",
			Help:      "Available memory",
		}, nil),
		wakeups: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wakeups_per_second",
			Help:      "System-wide wakeup rate",
		}, nil),
		runway: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runway_hours",
			Help:      "Estimated battery runway at full charge",
		}, []string{"window"}),
		tier: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tier",
			Help:      "1 for the current tier of each classification",
		}, []string{"signal", "tier"}),
		anomalies: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_wakeups_per_second",
			Help:      "Wakeup rate of processes above the anomaly threshold",
		}, []string{"process"}),
		stale: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale",
			Help:      "1 while a cadence is showing retained values",
		}, []string{"cadence"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Observe updates every metric from st. An unmeasured rail or sensor drops
// its series rather than reporting zero.
func (c *Collector) Observe(st dashboard.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states.Inc()

	p := st.Power
	c.power.WithLabelValues("total").Set(p.TotalMW)
	c.power.WithLabelValues("compute").Set(p.ComputeMW)
	c.power.WithLabelValues("cpu").Set(p.CPUMW)
	c.power.WithLabelValues("gpu").Set(p.GPUMW)
	c.power.WithLabelValues("ane").Set(p.ANEMW)
	c.power.WithLabelValues("accessory").Set(p.AccessoryMW)
	c.power.WithLabelValues("residual").Set(p.ResidualMW)
	setVec(c.power, "memory", p.MemoryMW)
	setVec(c.power, "display", p.DisplayMW)

	t := st.Temperatures
	setVec(c.temperature, "cpu", t.CPU)
	setVec(c.temperature, "gpu", t.GPU)
	setVec(c.temperature, "memory", t.Memory)
	setVec(c.temperature, "ssd", t.SSD)
	setVec(c.temperature, "battery", t.Battery)

	setGauge(c.batteryPct, st.BatteryPct)
	setGauge(c.memoryAvailable, st.MemoryAvailablePct)
	setGauge(c.wakeups, st.WakeupsPerSec)
	if st.Charging {
		c.charging.Set(1)
	} else {
		c.charging.Set(0)
	}

	if st.Runway.Available {
		c.runway.WithLabelValues("instant").Set(st.Runway.Instant.Hours)
		c.runway.WithLabelValues("windowed").Set(st.Runway.Windowed.Hours)
	} else {
		c.runway.Reset()
	}

	c.setTier("memory", st.Tiers.Memory)
	c.setTier("thermal", st.Tiers.Thermal)
	c.setTier("wakeups", st.Tiers.Wakeups)
	c.setTier("efficiency", st.Tiers.Efficiency)

	c.anomalies.Reset()
	for _, a := range st.AllAnomalies {
		c.anomalies.WithLabelValues(a.Name).Set(a.WakeupsPerSec)
	}

	c.stale.WithLabelValues("fast").Set(boolGauge(st.Health.RailsStale))
	c.stale.WithLabelValues("slow").Set(boolGauge(st.Health.HostStale))

	// Health counts are cumulative in the state; only the increase is added.
	c.fastFailures.Add(delta(st.Health.FastFailures, c.last.FastFailures))
	c.slowFailures.Add(delta(st.Health.SlowFailures, c.last.SlowFailures))
	c.invalidSamples.Add(delta(st.Health.InvalidSamples, c.last.InvalidSamples))
	c.last = st.Health

	if st.PowerShift != nil && st.PowerShift.At.After(c.lastShift) {
		c.powerShifts.Inc()
		c.lastShift = st.PowerShift.At
	}
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) setTier(signal string, current classify.Tier) {
	for _, t := range tiers {
		c.tier.WithLabelValues(signal, string(t)).Set(boolGauge(t == current))
	}
}

func setVec(v *prometheus.GaugeVec, label string, r snapshot.Reading) {
	if !r.Valid {
		v.DeleteLabelValues(label)
		return
	}
	v.WithLabelValues(label).Set(r.Value)
}

// setGauge handles an unlabeled series, which is absent while r is
// unavailable.
func setGauge(v *prometheus.GaugeVec, r snapshot.Reading) {
	if !r.Valid {
		v.DeleteLabelValues()
		return
	}
	v.WithLabelValues().Set(r.Value)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func delta(now, before uint64) float64 {
	if now < before {
		return float64(now)
	}
	return float64(now - before)
}
