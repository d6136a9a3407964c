// Package exec is the command dispatcher: it executes decoded requests
// against an internal/cache.Cache and produces the reply the session
// writes back (spec.md §4.5). Every call into the cache happens from a
// single goroutine — see Dispatcher.Run and SPEC_FULL.md §5.
package exec

import (
	"github.com/gibson-cache/gibson/internal/proto"
)

// ResultKind says which reply shape to write.
type ResultKind uint8

const (
	KindOK ResultKind = iota
	KindVal
	KindKVal
	KindErr
)

// Result is what a dispatched command produced; internal/session writes
// it to the wire via the matching proto.Write* call.
type Result struct {
	Kind  ResultKind
	Enc   proto.Encoding
	Value []byte
	Pairs []proto.KV
	Err   proto.ErrCode
}

func ok() Result                          { return Result{Kind: KindOK} }
func val(enc proto.Encoding, v []byte) Result { return Result{Kind: KindVal, Enc: enc, Value: v} }
func kval(pairs []proto.KV) Result        { return Result{Kind: KindKVal, Pairs: pairs} }
func errResult(code proto.ErrCode) Result { return Result{Kind: KindErr, Err: code} }
