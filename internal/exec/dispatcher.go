package exec

import (
	"context"

	"github.com/gibson-cache/gibson/internal/cache"
	"github.com/gibson-cache/gibson/internal/proto"
)

// Dispatcher is the single goroutine permitted to call into cache.Cache.
// internal/session submits decoded commands, internal/cron submits
// sweeps; both travel over the same unbuffered channel so a sweep can
// never overlap a command (spec.md §4.7, §5).
type Dispatcher struct {
	cache *cache.Cache
	jobs  chan func()
}

// New builds a Dispatcher over c. Run must be started before Execute or
// Sweep is called.
func New(c *cache.Cache) *Dispatcher {
	return &Dispatcher{cache: c, jobs: make(chan func())}
}

// Run is the dispatcher goroutine's body: it drains jobs until ctx is
// canceled. Callers typically run this inside an errgroup alongside the
// listener, cron and admin HTTP goroutines (SPEC_FULL.md §5).
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-d.jobs:
			job()
		}
	}
}

// Execute runs req to completion on the dispatcher goroutine and returns
// its Result. Safe to call concurrently from many session goroutines.
func (d *Dispatcher) Execute(ctx context.Context, req proto.Request) (Result, error) {
	resultCh := make(chan Result, 1)
	job := func() { resultCh <- d.execute(req) }

	select {
	case d.jobs <- job:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-resultCh:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Sweep runs fn against the cache on the dispatcher goroutine, blocking
// until it completes. internal/cron uses this for the TTL and
// memory-pressure passes so they never race a live command.
func (d *Dispatcher) Sweep(ctx context.Context, fn func(*cache.Cache)) error {
	done := make(chan struct{})
	job := func() {
		fn(d.cache)
		close(done)
	}

	select {
	case d.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
