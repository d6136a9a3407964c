package loop

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibson-cache/gibson/internal/cache"
	"github.com/gibson-cache/gibson/internal/exec"
	"github.com/gibson-cache/gibson/internal/gblog"
	"github.com/gibson-cache/gibson/internal/netstat"
	"github.com/gibson-cache/gibson/internal/proto"
	"github.com/gibson-cache/gibson/internal/session"
	"github.com/gibson-cache/gibson/internal/store"
)

func newTestLoop(t *testing.T, maxClients int) (*Loop, context.CancelFunc) {
	t.Helper()
	c := cache.New(cache.Config{}, store.NewLZ4Compressor())
	d := exec.New(c)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()

	log, err := gblog.New("-", gblog.Critical, 1)
	require.NoError(t, err)

	l, err := Listen(Config{Address: "127.0.0.1", Port: 0, MaxClients: maxClients}, d, log, NewRegistry(), nil)
	require.NoError(t, err)

	go func() { _ = l.Run(ctx) }()
	t.Cleanup(cancel)
	return l, cancel
}

func TestLoop_AcceptsAndServesACommand(t *testing.T) {
	l, _ := newTestLoop(t, 16)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, proto.WriteRequest(conn, proto.OpSet, []byte("k"), []byte("v"), nil))
	reply, err := proto.ReadReply(conn, 0)
	require.NoError(t, err)
	assert.Equal(t, proto.ReplyVal, reply.Code)
}

// TestLoop_MaxClientsOverflowClosesWithoutReply is E2E scenario 6
// (spec.md §8): with max_clients=1, a second connection is accepted then
// closed immediately with no reply written.
func TestLoop_MaxClientsOverflowClosesWithoutReply(t *testing.T) {
	l, _ := newTestLoop(t, 1)

	first, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer first.Close()

	// give the loop a moment to register the first session before dialing the second
	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err, "the overflow connection must be closed without a reply")
}

// TestRegistry_NetstatRollupSkipsUnsupportedConnections exercises the
// rollup's "absent sample" path: a net.Pipe session isn't a *net.TCPConn,
// so it contributes nothing rather than a zeroed-out reading.
func TestRegistry_NetstatRollupSkipsUnsupportedConnections(t *testing.T) {
	log, err := gblog.New("-", gblog.Critical, 1)
	require.NoError(t, err)

	reg := NewRegistry()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	s := session.New(serverConn, nil, log, 0, 0, nil)
	reg.Add(s)

	assert.Equal(t, netstat.Rollup{}, reg.NetstatRollup())
}
