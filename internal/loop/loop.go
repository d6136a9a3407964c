// Package loop owns the server's listener and accept loop: spec.md
// §4.3's single-threaded readiness dispatcher, re-expressed idiomatically
// as net.Listener.Accept plus one goroutine per connection instead of a
// hand-rolled epoll/kqueue facade (SPEC_FULL.md §5) — Go's own listener
// and runtime netpoller already provide the non-blocking, readiness-based
// foundation spec.md §4.3 asks for.
package loop

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gibson-cache/gibson/internal/exec"
	"github.com/gibson-cache/gibson/internal/gblog"
	"github.com/gibson-cache/gibson/internal/metrics"
	"github.com/gibson-cache/gibson/internal/session"
)

// Config is the subset of internal/config.Config the loop needs.
type Config struct {
	UnixSocket      string
	Address         string
	Port            int
	MaxClients      int
	MaxRequestSize  uint32
	MaxResponseSize uint32
}

// Loop accepts connections and spawns a Session goroutine for each,
// bounded by MaxClients (spec.md §5: overflow accepts then immediately
// closes).
type Loop struct {
	cfg        Config
	dispatcher *exec.Dispatcher
	log        *gblog.Logger
	registry   *Registry
	metrics    *metrics.Collector

	listener net.Listener
}

// Listen opens the configured listener: a unix socket at cfg.UnixSocket
// if set (permission 0777, unlinked first), otherwise a TCP listener on
// cfg.Address:cfg.Port. The two are mutually exclusive, the socket path
// taking precedence (spec.md §6). collector may be nil when the admin
// metrics surface is disabled; it is handed to every accepted Session.
func Listen(cfg Config, d *exec.Dispatcher, log *gblog.Logger, registry *Registry, collector *metrics.Collector) (*Loop, error) {
	var (
		ln  net.Listener
		err error
	)
	if cfg.UnixSocket != "" {
		_ = os.Remove(cfg.UnixSocket)
		log.Infof("Creating unix server socket on %s ...", cfg.UnixSocket)
		ln, err = net.Listen("unix", cfg.UnixSocket)
		if err == nil {
			err = os.Chmod(cfg.UnixSocket, 0777)
		}
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
		log.Infof("Creating tcp server socket on %s ...", addr)
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("loop: listen: %w", err)
	}
	return &Loop{cfg: cfg, dispatcher: d, log: log, registry: registry, metrics: collector, listener: ln}, nil
}

// Addr returns the listener's bound address.
func (l *Loop) Addr() net.Addr { return l.listener.Addr() }

// Run accepts connections until ctx is canceled or the listener errors.
// Each accepted connection gets its own Session goroutine, registered in
// the shared Registry for Cron's idle scan.
func (l *Loop) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("loop: accept: %w", err)
			}
		}

		if l.cfg.MaxClients > 0 && l.registry.Len() >= l.cfg.MaxClients {
			l.log.Warningf("max_clients reached (%d), rejecting connection from %s", l.cfg.MaxClients, conn.RemoteAddr())
			conn.Close()
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(10 * time.Second)
		}

		s := session.New(conn, l.dispatcher, l.log, l.cfg.MaxRequestSize, l.cfg.MaxResponseSize, l.metrics)
		l.registry.Add(s)
		go func() {
			defer l.registry.Remove(s)
			s.Serve(ctx)
		}()
	}
}
