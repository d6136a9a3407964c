// Package cron is the periodic maintenance driver: TTL expiry, memory
// pressure eviction, idle-session closure and a stats log line, the
// three independent cadences of spec.md §4.7 (`CRON_EVERY` in the
// original), scheduled with github.com/go-co-op/gocron/v2 instead of a
// hand-rolled modulo counter — adopted from ClusterCockpit-cc-backend's
// own taskManager package, which schedules its periodic jobs the same
// way.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gibson-cache/gibson/internal/cache"
	"github.com/gibson-cache/gibson/internal/exec"
	"github.com/gibson-cache/gibson/internal/gblog"
)

const (
	ttlSweepInterval    = 15 * time.Second
	memorySweepInterval = 5 * time.Second
	statsLogInterval    = 15 * time.Second
	idleScanInterval    = 5 * time.Second
)

// IdleCloser is satisfied by internal/loop.Registry; kept as an
// interface here so cron doesn't import loop (which imports session,
// which imports exec — cron only needs the one idle-scan method).
type IdleCloser interface {
	CloseIdle(maxIdle time.Duration) int
}

// Cron wires four independently-cadenced gocron jobs: three submit sweep
// jobs to the dispatcher, never touching the cache directly itself
// (spec.md §4.7: "the cron mutates the same tree the dispatcher
// mutates; safety comes from single-threaded execution"), and the fourth
// closes idle sessions through the IdleCloser.
type Cron struct {
	dispatcher *exec.Dispatcher
	log        *gblog.Logger
	registry   IdleCloser
	maxIdle    time.Duration

	scheduler gocron.Scheduler
}

// New builds a Cron. Start must be called to begin scheduling.
func New(d *exec.Dispatcher, log *gblog.Logger, registry IdleCloser, maxIdle time.Duration) (*Cron, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Cron{dispatcher: d, log: log, registry: registry, maxIdle: maxIdle, scheduler: scheduler}, nil
}

// Start registers every scheduled job and begins running them. ctx
// bounds the sweep jobs submitted to the dispatcher, not the scheduler's
// own lifetime (Stop governs that).
func (c *Cron) Start(ctx context.Context) error {
	if _, err := c.scheduler.NewJob(
		gocron.DurationJob(ttlSweepInterval),
		gocron.NewTask(func() { c.sweepTTL(ctx) }),
	); err != nil {
		return err
	}

	if _, err := c.scheduler.NewJob(
		gocron.DurationJob(memorySweepInterval),
		gocron.NewTask(func() { c.sweepMemory(ctx) }),
	); err != nil {
		return err
	}

	if _, err := c.scheduler.NewJob(
		gocron.DurationJob(statsLogInterval),
		gocron.NewTask(func() { c.logStats(ctx) }),
	); err != nil {
		return err
	}

	if _, err := c.scheduler.NewJob(
		gocron.DurationJob(idleScanInterval),
		gocron.NewTask(func() { c.scanIdle() }),
	); err != nil {
		return err
	}

	c.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for any in-flight job.
func (c *Cron) Stop() error {
	return c.scheduler.Shutdown()
}

func (c *Cron) sweepTTL(ctx context.Context) {
	var removed int
	err := c.dispatcher.Sweep(ctx, func(ca *cache.Cache) { removed = ca.ExpireTTL() })
	if err != nil {
		return // server shutting down
	}
	if removed > 0 {
		c.log.Debugf("cron: expired %d item(s)", removed)
	}
}

func (c *Cron) sweepMemory(ctx context.Context) {
	var freedBytes int64
	var freedCount int
	err := c.dispatcher.Sweep(ctx, func(ca *cache.Cache) {
		// EvictStale itself no-ops when memory_used is already within
		// budget (spec.md §4.7: only runs the eviction pass when over
		// budget).
		freedBytes, freedCount = ca.EvictStale()
	})
	if err != nil {
		return
	}
	if freedCount > 0 {
		c.log.Debugf("cron: evicted %d item(s), freed %d bytes", freedCount, freedBytes)
	}
}

func (c *Cron) logStats(ctx context.Context) {
	var stats cache.Snapshot
	err := c.dispatcher.Sweep(ctx, func(ca *cache.Cache) { stats = ca.Stats() })
	if err != nil {
		return
	}
	c.log.Infof("stats: items=%d memory=%s peak=%s compressed=%d evicted=%d expired=%d oom=%d",
		stats.ItemsCount, formatBytes(stats.MemoryUsed), formatBytes(stats.PeakMemory),
		stats.CompressedCount, stats.EvictedCount, stats.ExpiredCount, stats.OOMCount)
}

func (c *Cron) scanIdle() {
	closed := c.registry.CloseIdle(c.maxIdle)
	if closed > 0 {
		c.log.Debugf("cron: closed %d idle session(s)", closed)
	}
}

// formatBytes renders n through the original's B/KB/MB/GB/TB ladder
// (gbMemFormat in original_source/src/gibson.c), the supplemented
// human-readable size formatting named in SPEC_FULL.md §9.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}
