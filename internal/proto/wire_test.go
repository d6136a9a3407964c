package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest_RoundTripsEveryOpcodeShape(t *testing.T) {
	cases := []struct {
		name   string
		opcode Opcode
		args   [][]byte
	}{
		{"SET", OpSet, [][]byte{[]byte("user:1"), []byte("alice"), []byte("0")}},
		{"GET", OpGet, [][]byte{[]byte("user:1")}},
		{"TTL", OpTTL, [][]byte{[]byte("user:1"), []byte("60")}},
		{"MGET", OpMGet, [][]byte{[]byte("user:")}},
		{"STATS", OpStats, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteRequest(&buf, tc.opcode, tc.args...))

			got, err := ReadRequest(&buf, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.opcode, got.Opcode)
			require.Equal(t, len(tc.args), len(got.Args))
			for i := range tc.args {
				assert.True(t, bytes.Equal(tc.args[i], got.Args[i]))
			}
		})
	}
}

func TestReadRequest_RejectsSizeOutOfBounds(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, OpGet, []byte("k")))

	_, err := ReadRequest(&buf, 4) // far smaller than the encoded frame
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}

func TestReadRequest_RejectsUnknownOpcode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, Opcode(9999)))

	_, err := ReadRequest(&buf, 0)
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}

func TestReadRequest_RejectsTruncatedArgument(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, OpSet, []byte("k"), []byte("v"), []byte("0")))
	raw := buf.Bytes()
	truncated := append([]byte(nil), raw[:len(raw)-2]...) // chop the tail off the last argument
	// keep the size header consistent with the shortened body, so the frame
	// itself is complete and only its last argument is truncated
	binary.LittleEndian.PutUint32(truncated[:4], uint32(len(truncated)-4))

	_, err := ReadRequest(bytes.NewReader(truncated), 0)
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}

func TestReply_RoundTripsEveryShape(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteOK(&buf))
		reply, err := ReadReply(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, ReplyOK, reply.Code)
	})

	t.Run("VAL", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteVal(&buf, EncodingPlain, []byte("alice")))
		reply, err := ReadReply(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, ReplyVal, reply.Code)
		assert.Equal(t, EncodingPlain, reply.Enc)
		assert.Equal(t, "alice", string(reply.Value))
	})

	t.Run("KVAL", func(t *testing.T) {
		pairs := []KV{
			{Key: []byte("a:1"), Encoding: EncodingPlain, Value: []byte("v1")},
			{Key: []byte("a:2"), Encoding: EncodingNumber, Value: []byte("42")},
		}
		var buf bytes.Buffer
		require.NoError(t, WriteKVal(&buf, pairs))
		reply, err := ReadReply(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, ReplyKVal, reply.Code)
		require.Len(t, reply.Pairs, 2)
		assert.Equal(t, "a:1", string(reply.Pairs[0].Key))
		assert.Equal(t, "42", string(reply.Pairs[1].Value))
	})

	t.Run("ERR", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteErr(&buf, ErrLocked))
		reply, err := ReadReply(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, ReplyErr, reply.Code)
		assert.Equal(t, ErrLocked, reply.Err)
	})
}

// TestRequestFrame_EncodeDecodeRoundTrip is the property test for
// spec.md §8 invariant 7: encode(decode(bytes)) == bytes for any valid
// frame.
func TestRequestFrame_EncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	shapes := []Opcode{OpSet, OpGet, OpTTL, OpLock, OpMGet, OpMSet, OpPing}

	for i := 0; i < 200; i++ {
		op := shapes[rng.Intn(len(shapes))]
		n := op.ArgCount()
		args := make([][]byte, n)
		for j := range args {
			buf := make([]byte, rng.Intn(32))
			rng.Read(buf)
			args[j] = buf
		}

		var original bytes.Buffer
		require.NoError(t, WriteRequest(&original, op, args...))
		wantBytes := append([]byte(nil), original.Bytes()...)

		decoded, err := ReadRequest(bytes.NewReader(wantBytes), 0)
		require.NoError(t, err)

		var reEncoded bytes.Buffer
		require.NoError(t, WriteRequest(&reEncoded, decoded.Opcode, decoded.Args...))

		assert.True(t, bytes.Equal(wantBytes, reEncoded.Bytes()), "round trip mismatch for opcode %s", op)
	}
}
