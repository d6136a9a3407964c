// Package server wires every other package into one owned object: the
// cache, dispatcher, listener, cron and optional admin HTTP surface, all
// reachable only through the returned *Server (spec.md §9's "no global
// server singleton" design note). golang.org/x/sync/errgroup coordinates
// their shutdown the way the teacher coordinates its own subsystem
// goroutines.
package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gibson-cache/gibson/internal/cache"
	"github.com/gibson-cache/gibson/internal/config"
	"github.com/gibson-cache/gibson/internal/cron"
	"github.com/gibson-cache/gibson/internal/exec"
	"github.com/gibson-cache/gibson/internal/gblog"
	"github.com/gibson-cache/gibson/internal/loop"
	"github.com/gibson-cache/gibson/internal/metrics"
	"github.com/gibson-cache/gibson/internal/store"
)

// Server owns every long-lived component built from one config.Config.
type Server struct {
	cfg config.Config
	log *gblog.Logger

	cache      *cache.Cache
	dispatcher *exec.Dispatcher
	registry   *loop.Registry
	loop       *loop.Loop
	cron       *cron.Cron

	metrics   *metrics.Collector
	adminHTTP *metrics.Server
}

// New builds every component from cfg but starts nothing; call Run to
// bring the server up.
func New(cfg config.Config, log *gblog.Logger) (*Server, error) {
	if clamped := config.ClampMaxMemory(&cfg); clamped {
		log.Warningf("max_memory exceeds half of available system memory, clamped to %d bytes", cfg.MaxMemory)
	}

	c := cache.New(cache.Config{
		CompressionThreshold: int(cfg.Compression),
		MaxMemory:            cfg.MaxMemory,
		GCRatio:              int(cfg.GCRatio),
		MaxKeySize:           int(cfg.MaxKeySize),
		MaxValueSize:         int(cfg.MaxValueSize),
		StaleIndexCapacity:   4096,
	}, store.NewLZ4Compressor())

	d := exec.New(c)
	registry := loop.NewRegistry()

	var collector *metrics.Collector
	if cfg.MetricsAddress != "" {
		collector = metrics.New(c.Stats, registry.Len, registry.NetstatRollup)
	}

	l, err := loop.Listen(loop.Config{
		UnixSocket:      cfg.UnixSocket,
		Address:         cfg.Address,
		Port:            cfg.Port,
		MaxClients:      cfg.MaxClients,
		MaxRequestSize:  uint32(cfg.MaxRequestSize),
		MaxResponseSize: uint32(cfg.MaxResponseSize),
	}, d, log, registry, collector)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	maxIdle := time.Duration(cfg.MaxIdleTime) * time.Second
	cr, err := cron.New(d, log, registry, maxIdle)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		log:        log,
		cache:      c,
		dispatcher: d,
		registry:   registry,
		loop:       l,
		cron:       cr,
		metrics:    collector,
	}

	if collector != nil {
		s.adminHTTP = metrics.NewServer(collector, log)
	}

	s.logStartupBanner()
	return s, nil
}

// Run brings every component up and blocks until ctx is canceled. On
// cancellation the components stop concurrently, with no ordering between
// them: the dispatcher and the listener return as soon as they see the
// canceled context, while a watcher goroutine shuts down admin HTTP and
// cron.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.dispatcher.Run(gctx) })
	g.Go(func() error { return s.loop.Run(gctx) })

	if err := s.cron.Start(gctx); err != nil {
		return fmt.Errorf("server: cron: %w", err)
	}

	if s.adminHTTP != nil {
		g.Go(func() error {
			err := s.adminHTTP.ListenAndServe(s.cfg.MetricsAddress)
			if gctx.Err() != nil {
				return nil // shutting down
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if s.adminHTTP != nil {
			_ = s.adminHTTP.Shutdown()
		}
		_ = s.cron.Stop()
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil // canceled deliberately
	}
	return err
}

func (s *Server) logStartupBanner() {
	s.log.Infof("gibson starting: address=%s port=%d unix_socket=%q max_clients=%d",
		s.cfg.Address, s.cfg.Port, s.cfg.UnixSocket, s.cfg.MaxClients)
	s.log.Infof("limits: max_memory=%d max_request_size=%d max_response_size=%d max_key_size=%d max_value_size=%d",
		s.cfg.MaxMemory, s.cfg.MaxRequestSize, s.cfg.MaxResponseSize, s.cfg.MaxKeySize, s.cfg.MaxValueSize)
	s.log.Infof("gc_ratio=%ds max_idletime=%ds compression_threshold=%d", s.cfg.GCRatio, s.cfg.MaxIdleTime, s.cfg.Compression)
	if s.cfg.MetricsAddress != "" {
		s.log.Infof("metrics_address=%s", s.cfg.MetricsAddress)
	}
}

// Addr returns the bound listener address, for tests and for logging once
// listening (e.g. when Port is 0).
func (s *Server) Addr() string { return s.loop.Addr().String() }
