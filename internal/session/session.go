// Package session runs one goroutine per accepted connection, the
// blocking-I/O translation of spec.md §4.6's WAITING_SIZE ->
// WAITING_BUFFER -> SENDING_REPLY state machine (SPEC_FULL.md §5): a
// dedicated goroutine per net.Conn replaces the original's non-blocking
// poll loop, since Go's runtime already multiplexes blocking I/O onto
// OS threads for us.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/teris-io/shortid"

	"github.com/gibson-cache/gibson/internal/exec"
	"github.com/gibson-cache/gibson/internal/gblog"
	"github.com/gibson-cache/gibson/internal/metrics"
	"github.com/gibson-cache/gibson/internal/netstat"
	"github.com/gibson-cache/gibson/internal/proto"
)

// Session owns one client connection end to end: read a frame, hand it
// to the dispatcher, write the reply, repeat until the connection closes
// or the server shuts down.
type Session struct {
	ID   string
	conn net.Conn

	dispatcher      *exec.Dispatcher
	log             *gblog.Logger
	metrics         *metrics.Collector
	maxRequestSize  uint32
	maxResponseSize uint32

	lastSeenAt atomic.Int64 // unix seconds, read by Cron's idle scan
}

// New builds a Session wrapping conn. It does not start serving; call
// Serve to run its read/execute/write loop. collector may be nil when the
// admin metrics surface is disabled.
func New(conn net.Conn, d *exec.Dispatcher, log *gblog.Logger, maxRequestSize, maxResponseSize uint32, collector *metrics.Collector) *Session {
	id, _ := shortid.Generate()
	s := &Session{
		ID:              id,
		conn:            conn,
		dispatcher:      d,
		log:             log,
		metrics:         collector,
		maxRequestSize:  maxRequestSize,
		maxResponseSize: maxResponseSize,
	}
	s.touch()
	return s
}

// NetstatSample reads TCP_INFO off this session's connection, for
// Registry's rollup; ok is false when unsupported (non-TCP connection or
// non-Linux GOOS).
func (s *Session) NetstatSample() (netstat.Sample, bool) {
	return netstat.Read(s.conn)
}

// LastSeenAt returns the unix-seconds timestamp of this session's most
// recent I/O activity; internal/cron's idle scan reads this.
func (s *Session) LastSeenAt() int64 { return s.lastSeenAt.Load() }

func (s *Session) touch() { s.lastSeenAt.Store(time.Now().Unix()) }

// Close closes the underlying connection; safe to call more than once.
func (s *Session) Close() error { return s.conn.Close() }

// Serve runs the read-dispatch-write loop until the connection is closed,
// by the client, by a framing violation (spec.md §7 "Malformed" — closed
// without a reply), or by Close being called concurrently (e.g. Cron
// evicting an idle session). A canceled ctx is noticed only when the next
// request is dispatched; a session blocked reading its connection stays
// blocked until that connection closes.
func (s *Session) Serve(ctx context.Context) {
	defer s.conn.Close()

	for {
		req, err := proto.ReadRequest(s.conn, s.maxRequestSize)
		if err != nil {
			s.logReadError(err)
			return
		}
		s.touch()

		start := time.Now()
		res, err := s.dispatcher.Execute(ctx, req)
		if err != nil {
			return // context canceled: server shutting down
		}
		if s.metrics != nil {
			s.metrics.ObserveCommand(req.Opcode, res.Kind != exec.KindErr, time.Since(start))
		}

		if err := s.writeResult(res); err != nil {
			s.log.Debugf("session %s: write error: %v", s.ID, err)
			return
		}
		s.touch()
	}
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.log.Debugf("session %s: client closed connection", s.ID)
	case errors.Is(err, proto.ErrMalformedFrame):
		s.log.Warningf("session %s: malformed query, dropping client: %v", s.ID, err)
	default:
		s.log.Warningf("session %s: error reading from client: %v", s.ID, err)
	}
}

func (s *Session) writeResult(res exec.Result) error {
	switch res.Kind {
	case exec.KindOK:
		return proto.WriteOK(s.conn)
	case exec.KindVal:
		return proto.WriteVal(s.conn, res.Enc, res.Value)
	case exec.KindKVal:
		return proto.WriteKVal(s.conn, res.Pairs)
	case exec.KindErr:
		return proto.WriteErr(s.conn, res.Err)
	default:
		return proto.WriteErr(s.conn, proto.ErrInternal)
	}
}
