// Command gibsond is the cache server's process entrypoint: flag
// parsing, signal handling and daemonization glue around
// internal/server.Server, the Go equivalent of the original's main()/
// gbProcessInit() (original_source/src/gibson.c).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/pkg/errors"

	"github.com/gibson-cache/gibson/internal/config"
	"github.com/gibson-cache/gibson/internal/gblog"
	"github.com/gibson-cache/gibson/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "", "path to the gibson configuration file")
	flag.StringVar(configPath, "config", "", "path to the gibson configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gibsond: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	log, err := gblog.New(cfg.Logfile, gblog.ParseLevel(cfg.Loglevel), cfg.Logflushrate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gibsond: %v\n", err)
		return 1
	}
	defer log.Close()

	if cfg.Daemonize {
		if err := daemonize(); err != nil {
			log.Criticalf("%+v", errors.Wrap(err, "daemonize"))
			return 1
		}
	}

	if cfg.Pidfile != "" {
		if err := writePidfile(cfg.Pidfile); err != nil {
			log.Warningf("error creating pid file %s: %v", cfg.Pidfile, err)
		} else {
			defer os.Remove(cfg.Pidfile)
		}
	}

	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Criticalf("%+v", errors.Wrap(err, "server init"))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Warningf("received %s, scheduling shutdown...", sig)
		cancel()
	}()

	return runWithRecovery(ctx, srv, log)
}

// runWithRecovery runs the server, logging a panic raised on the calling
// goroutine (srv.Run's own body) at CRITICAL with a stack trace and
// returning exit code 1 — the stand-in for the original's fatal-signal
// path (original_source/src/gibson.c gbSignalHandler). Panics in the
// goroutines srv.Run starts (dispatcher, listener, sessions) are not
// recovered here.
func runWithRecovery(ctx context.Context, srv *server.Server, log *gblog.Logger) (code int) {
	defer func() {
		if r := recover(); r != nil {
			log.Criticalf("PANIC: %v", r)
			log.Criticalf("%s", debug.Stack())
			code = 1
		}
	}()

	if err := srv.Run(ctx); err != nil {
		log.Criticalf("%+v", errors.Wrap(err, "server"))
		return 1
	}
	return 0
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
