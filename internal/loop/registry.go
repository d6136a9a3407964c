package loop

import (
	"sync"
	"time"

	"github.com/gibson-cache/gibson/internal/netstat"
	"github.com/gibson-cache/gibson/internal/session"
)

// Registry tracks every live session so Cron can scan for idle ones to
// close (spec.md §4.6 "Idle clients ... are closed by Cron").
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Add registers s under its ID.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove drops s from the registry (called once its Serve loop returns).
func (r *Registry) Remove(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
}

// Len reports the current live session count, exported as the
// clients_count gauge.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseIdle closes every session whose last activity is older than
// maxIdle, returning how many were closed.
func (r *Registry) CloseIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).Unix()
	r.mu.Lock()
	var stale []*session.Session
	for _, s := range r.sessions {
		if s.LastSeenAt() <= cutoff {
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// NetstatRollup samples TCP_INFO off every live session's connection and
// folds the results into one netstat.Rollup, the source for the
// admin HTTP surface's per-connection network gauges and /stats rollup.
func (r *Registry) NetstatRollup() netstat.Rollup {
	r.mu.Lock()
	samples := make([]netstat.Sample, 0, len(r.sessions))
	for _, s := range r.sessions {
		if sample, ok := s.NetstatSample(); ok {
			samples = append(samples, sample)
		}
	}
	r.mu.Unlock()
	return netstat.Aggregate(samples)
}
