package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedFrame signals a framing violation severe enough that the
// connection itself must be closed without a reply (spec.md §7
// "Malformed"): an unknown opcode, an out-of-bounds size, or a truncated
// argument.
var ErrMalformedFrame = errors.New("proto: malformed frame")

// Encoding mirrors internal/store.Encoding on the wire without coupling
// the protocol layer to the cache's storage representation.
type Encoding uint8

const (
	EncodingPlain Encoding = iota
	EncodingCompressed
	EncodingNumber
)

// KV is one key/value row of a KVAL reply (spec.md §6).
type KV struct {
	Key      []byte
	Encoding Encoding
	Value    []byte
}

// Request is a fully decoded, framing-valid client command.
type Request struct {
	Opcode Opcode
	Args   [][]byte
}

// ReadRequest reads one length-prefixed request from r. maxRequestSize
// bounds the body (spec.md §4.4: "request size must lie in
// [2, max_request_size]"). Any violation — bad size, unknown opcode,
// wrong argument count, truncated argument — returns ErrMalformedFrame
// wrapped with detail; callers must close the connection on that error
// without attempting a reply.
func ReadRequest(r io.Reader, maxRequestSize uint32) (Request, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return Request{}, err // EOF/connection errors propagate as-is, not Malformed
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < 2 || (maxRequestSize > 0 && size > maxRequestSize) {
		return Request{}, fmt.Errorf("%w: size %d out of bounds", ErrMalformedFrame, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Request{}, err
	}

	if len(body) < 2 {
		return Request{}, fmt.Errorf("%w: body too short for opcode", ErrMalformedFrame)
	}
	opcode := Opcode(binary.LittleEndian.Uint16(body[:2]))
	argCount := opcode.ArgCount()
	if argCount < 0 {
		return Request{}, fmt.Errorf("%w: unknown opcode %d", ErrMalformedFrame, opcode)
	}

	rest := body[2:]
	args := make([][]byte, 0, argCount)
	for i := 0; i < argCount; i++ {
		if len(rest) < 4 {
			return Request{}, fmt.Errorf("%w: truncated argument %d length", ErrMalformedFrame, i)
		}
		alen := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(alen) > uint64(len(rest)) {
			return Request{}, fmt.Errorf("%w: truncated argument %d body", ErrMalformedFrame, i)
		}
		args = append(args, rest[:alen])
		rest = rest[alen:]
	}
	if len(rest) != 0 {
		return Request{}, fmt.Errorf("%w: %d trailing bytes after arguments", ErrMalformedFrame, len(rest))
	}

	return Request{Opcode: opcode, Args: args}, nil
}

// WriteRequest encodes a request frame, mirroring ReadRequest. Used by
// tests and by any in-process client.
func WriteRequest(w io.Writer, opcode Opcode, args ...[]byte) error {
	body := make([]byte, 0, 2+len(args)*4)
	var opBuf [2]byte
	binary.LittleEndian.PutUint16(opBuf[:], uint16(opcode))
	body = append(body, opBuf[:]...)
	for _, a := range args {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(a)))
		body = append(body, lenBuf[:]...)
		body = append(body, a...)
	}
	return writeFrame(w, body)
}

func writeFrame(w io.Writer, body []byte) error {
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(body)))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// WriteOK writes a REPL_OK reply (spec.md §4.4).
func WriteOK(w io.Writer) error {
	return writeFrame(w, []byte{byte(ReplyOK)})
}

// WriteVal writes a REPL_VAL reply.
func WriteVal(w io.Writer, enc Encoding, value []byte) error {
	body := make([]byte, 0, 1+1+4+len(value))
	body = append(body, byte(ReplyVal), byte(enc))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
	body = append(body, lenBuf[:]...)
	body = append(body, value...)
	return writeFrame(w, body)
}

// WriteKVal writes a REPL_KVAL reply for subtree operations.
func WriteKVal(w io.Writer, pairs []KV) error {
	size := 1 + 4
	for _, p := range pairs {
		size += 4 + len(p.Key) + 1 + 4 + len(p.Value)
	}
	body := make([]byte, 0, size)
	body = append(body, byte(ReplyKVal))
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(pairs)))
	body = append(body, countBuf[:]...)
	for _, p := range pairs {
		var klenBuf, vlenBuf [4]byte
		binary.LittleEndian.PutUint32(klenBuf[:], uint32(len(p.Key)))
		body = append(body, klenBuf[:]...)
		body = append(body, p.Key...)
		body = append(body, byte(p.Encoding))
		binary.LittleEndian.PutUint32(vlenBuf[:], uint32(len(p.Value)))
		body = append(body, vlenBuf[:]...)
		body = append(body, p.Value...)
	}
	return writeFrame(w, body)
}

// WriteErr writes a REPL_ERR reply.
func WriteErr(w io.Writer, code ErrCode) error {
	return writeFrame(w, []byte{byte(ReplyErr), byte(code)})
}

// Reply is a fully decoded reply, used by tests and any in-process
// client to assert against what a command produced.
type Reply struct {
	Code  ReplyCode
	Err   ErrCode // valid iff Code == ReplyErr
	Enc   Encoding
	Value []byte
	Pairs []KV
}

// ReadReply decodes one reply frame from r. maxResponseSize bounds the
// body the same way maxRequestSize bounds a request (spec.md §4.4).
func ReadReply(r io.Reader, maxResponseSize uint32) (Reply, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return Reply{}, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < 1 || (maxResponseSize > 0 && size > maxResponseSize) {
		return Reply{}, fmt.Errorf("%w: reply size %d out of bounds", ErrMalformedFrame, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Reply{}, err
	}

	code := ReplyCode(body[0])
	rest := body[1:]
	switch code {
	case ReplyOK:
		return Reply{Code: code}, nil
	case ReplyErr:
		if len(rest) != 1 {
			return Reply{}, fmt.Errorf("%w: malformed ERR payload", ErrMalformedFrame)
		}
		return Reply{Code: code, Err: ErrCode(rest[0])}, nil
	case ReplyVal:
		if len(rest) < 5 {
			return Reply{}, fmt.Errorf("%w: malformed VAL payload", ErrMalformedFrame)
		}
		enc := Encoding(rest[0])
		vlen := binary.LittleEndian.Uint32(rest[1:5])
		value := rest[5:]
		if uint32(len(value)) != vlen {
			return Reply{}, fmt.Errorf("%w: VAL length mismatch", ErrMalformedFrame)
		}
		return Reply{Code: code, Enc: enc, Value: value}, nil
	case ReplyKVal:
		if len(rest) < 4 {
			return Reply{}, fmt.Errorf("%w: malformed KVAL payload", ErrMalformedFrame)
		}
		count := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		pairs := make([]KV, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(rest) < 4 {
				return Reply{}, fmt.Errorf("%w: truncated KVAL entry %d", ErrMalformedFrame, i)
			}
			klen := binary.LittleEndian.Uint32(rest[:4])
			rest = rest[4:]
			if uint32(len(rest)) < klen+1+4 {
				return Reply{}, fmt.Errorf("%w: truncated KVAL entry %d", ErrMalformedFrame, i)
			}
			key := rest[:klen]
			rest = rest[klen:]
			enc := Encoding(rest[0])
			rest = rest[1:]
			vlen := binary.LittleEndian.Uint32(rest[:4])
			rest = rest[4:]
			if uint32(len(rest)) < vlen {
				return Reply{}, fmt.Errorf("%w: truncated KVAL entry %d value", ErrMalformedFrame, i)
			}
			value := rest[:vlen]
			rest = rest[vlen:]
			pairs = append(pairs, KV{Key: key, Encoding: enc, Value: value})
		}
		return Reply{Code: code, Pairs: pairs}, nil
	default:
		return Reply{}, fmt.Errorf("%w: unknown reply code %d", ErrMalformedFrame, code)
	}
}
