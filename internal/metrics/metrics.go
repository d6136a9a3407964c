// Package metrics is the optional admin side-channel: Prometheus
// collectors plus a small JSON status endpoint, served over fasthttp the
// way the teacher serves its own metrics (SPEC_FULL.md §6.1). None of
// this touches the binary protocol; it is disabled entirely when no
// metrics_address is configured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gibson-cache/gibson/internal/cache"
	"github.com/gibson-cache/gibson/internal/netstat"
	"github.com/gibson-cache/gibson/internal/proto"
)

// Collector registers the gauges/counters/histogram described in
// SPEC_FULL.md §6.1 and refreshes the gauges from a cache.Snapshot on
// every scrape.
type Collector struct {
	registry *prometheus.Registry

	itemsCount  prometheus.Gauge
	memoryUsed  prometheus.Gauge
	peakMemory  prometheus.Gauge
	clientCount prometheus.Gauge

	netstatSamples     prometheus.Gauge
	netstatAvgRTT      prometheus.Gauge
	netstatMaxRTT      prometheus.Gauge
	netstatRetransmits prometheus.Gauge
	netstatMinCwnd     prometheus.Gauge

	evicted  prometheus.Counter
	expired  prometheus.Counter
	oomErr   prometheus.Counter
	lockErr  prometheus.Counter
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	snapshot      func() cache.Snapshot
	clients       func() int
	netstatRollup func() netstat.Rollup

	lastEvicted, lastExpired, lastOOM, lastLocked int64
	lastRollup                                    netstat.Rollup
}

// New builds a Collector. snapshot, clients and netstatRollup are called
// on every scrape (or Stats call); none may block the dispatcher, so
// callers typically wrap cache.Cache.Stats, loop.Registry.Len and
// loop.Registry.NetstatRollup directly — all are safe to call from any
// goroutine.
func New(snapshot func() cache.Snapshot, clients func() int, netstatRollup func() netstat.Rollup) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry:      reg,
		snapshot:      snapshot,
		clients:       clients,
		netstatRollup: netstatRollup,
		itemsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_items_count", Help: "number of live items in the cache.",
		}),
		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_memory_used_bytes", Help: "accounted memory currently in use.",
		}),
		peakMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_memory_peak_bytes", Help: "high-water mark of accounted memory use.",
		}),
		clientCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_clients_count", Help: "currently connected client sessions.",
		}),
		netstatSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_netstat_samples", Help: "connections TCP_INFO was successfully read from on the last sweep.",
		}),
		netstatAvgRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_netstat_avg_rtt_micros", Help: "average smoothed RTT across sampled connections.",
		}),
		netstatMaxRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_netstat_max_rtt_micros", Help: "worst smoothed RTT across sampled connections.",
		}),
		netstatRetransmits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_netstat_retransmits", Help: "sum of lifetime retransmits across sampled connections.",
		}),
		netstatMinCwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gibson_netstat_min_congestion_window", Help: "smallest send congestion window across sampled connections.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gibson_evicted_total", Help: "items removed by memory-pressure eviction.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gibson_expired_total", Help: "items removed by TTL expiry.",
		}),
		oomErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gibson_oom_errors_total", Help: "commands rejected with OOM.",
		}),
		lockErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gibson_locked_errors_total", Help: "commands rejected with LOCKED.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gibson_commands_total", Help: "commands processed, by opcode and result.",
		}, []string{"opcode", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gibson_command_latency_seconds",
			Help:    "dispatcher execution latency per opcode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"opcode"}),
	}
	reg.MustRegister(c.itemsCount, c.memoryUsed, c.peakMemory, c.clientCount,
		c.netstatSamples, c.netstatAvgRTT, c.netstatMaxRTT, c.netstatRetransmits, c.netstatMinCwnd,
		c.evicted, c.expired, c.oomErr, c.lockErr, c.commands, c.latency)
	return c
}

// Registry exposes the underlying prometheus.Registry for the HTTP
// handler to render.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Refresh pulls a fresh snapshot into the gauges. Called before every
// /metrics scrape.
func (c *Collector) Refresh() cache.Snapshot {
	snap := c.snapshot()
	c.itemsCount.Set(float64(snap.ItemsCount))
	c.memoryUsed.Set(float64(snap.MemoryUsed))
	c.peakMemory.Set(float64(snap.PeakMemory))
	c.clientCount.Set(float64(c.clients()))

	addCounterDelta(c.evicted, snap.EvictedCount, &c.lastEvicted)
	addCounterDelta(c.expired, snap.ExpiredCount, &c.lastExpired)
	addCounterDelta(c.oomErr, snap.OOMCount, &c.lastOOM)
	addCounterDelta(c.lockErr, snap.LockedCount, &c.lastLocked)

	roll := c.netstatRollup()
	c.netstatSamples.Set(float64(roll.Samples))
	c.netstatAvgRTT.Set(float64(roll.AvgRTTMicros))
	c.netstatMaxRTT.Set(float64(roll.MaxRTTMicros))
	c.netstatRetransmits.Set(float64(roll.TotalRetransmits))
	c.netstatMinCwnd.Set(float64(roll.MinSendCongestWin))
	c.lastRollup = roll

	return snap
}

// NetstatRollup returns the netstat.Rollup captured by the most recent
// Refresh, for the /stats JSON rollup (admin.go).
func (c *Collector) NetstatRollup() netstat.Rollup { return c.lastRollup }

// addCounterDelta feeds a monotonic prometheus.Counter from a cache
// snapshot field that only ever increases within a server's lifetime.
func addCounterDelta(c prometheus.Counter, current int64, last *int64) {
	if delta := current - *last; delta > 0 {
		c.Add(float64(delta))
	}
	*last = current
}

// ObserveCommand records one dispatched command's outcome and latency.
func (c *Collector) ObserveCommand(op proto.Opcode, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.commands.WithLabelValues(op.String(), result).Inc()
	c.latency.WithLabelValues(op.String()).Observe(d.Seconds())
}
