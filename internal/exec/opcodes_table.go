package exec

import (
	"errors"
	"strconv"
	"time"

	"github.com/gibson-cache/gibson/internal/cache"
	"github.com/gibson-cache/gibson/internal/proto"
	"github.com/gibson-cache/gibson/internal/store"
)

// execute runs req against the cache. Only ever called from the
// dispatcher goroutine (see Run/Execute/Sweep in dispatcher.go).
func (d *Dispatcher) execute(req proto.Request) Result {
	switch req.Opcode {
	case proto.OpSet:
		return d.doSet(req.Args[0], req.Args[1], req.Args[2])
	case proto.OpGet:
		return d.doGet(req.Args[0])
	case proto.OpDel:
		return errOr(d.cache.Delete(req.Args[0]))
	case proto.OpTTL:
		return d.doTTL(req.Args[0], req.Args[1])
	case proto.OpInc:
		return valOr(d.cache.Incr(req.Args[0]))
	case proto.OpDec:
		return valOr(d.cache.Decr(req.Args[0]))
	case proto.OpLock:
		return d.doLock(req.Args[0], req.Args[1])
	case proto.OpUnlock:
		return d.doUnlock(req.Args[0], req.Args[1])
	case proto.OpCount:
		return d.doCount(req.Args[0])
	case proto.OpPing:
		return ok()
	case proto.OpTime:
		return val(proto.EncodingNumber, store.FormatNumber(time.Now().Unix()))
	case proto.OpStats:
		return d.doStats()
	case proto.OpMSet:
		return pairsOr(d.cache.MSet(req.Args[0], req.Args[1]))
	case proto.OpMGet:
		return pairsOr(d.cache.MGet(req.Args[0]))
	case proto.OpMDel:
		return pairsOr(d.cache.MDel(req.Args[0]))
	case proto.OpMTTL:
		return d.doMTTL(req.Args[0], req.Args[1])
	case proto.OpMInc:
		return pairsOr(d.cache.MInc(req.Args[0]))
	case proto.OpMDec:
		return pairsOr(d.cache.MDec(req.Args[0]))
	case proto.OpMLock:
		return d.doMLock(req.Args[0], req.Args[1])
	case proto.OpMUnlock:
		return pairsOr(d.cache.MUnlock(req.Args[0]))
	default:
		return errResult(proto.ErrInternal)
	}
}

// doStats renders the cache's running counters as a KVAL reply, one
// NUMBER-encoded pair per cache.Snapshot counter; the cron stats log line
// (spec.md §4.7) reports a subset of these.
func (d *Dispatcher) doStats() Result {
	snap := d.cache.Stats()
	fields := []struct {
		name string
		v    int64
	}{
		{"items_count", snap.ItemsCount},
		{"memory_used", snap.MemoryUsed},
		{"peak_memory", snap.PeakMemory},
		{"compressed_count", snap.CompressedCount},
		{"evicted_count", snap.EvictedCount},
		{"expired_count", snap.ExpiredCount},
		{"oom_count", snap.OOMCount},
		{"locked_count", snap.LockedCount},
		{"average_item_size", snap.AverageItemSize},
	}
	pairs := make([]proto.KV, len(fields))
	for i, f := range fields {
		pairs[i] = proto.KV{Key: []byte(f.name), Encoding: proto.EncodingNumber, Value: store.FormatNumber(f.v)}
	}
	return kval(pairs)
}

func (d *Dispatcher) doSet(key, value, ttlArg []byte) Result {
	ttl, err := parseSeconds(ttlArg)
	if err != nil {
		return errResult(proto.ErrMalformed)
	}
	enc, stored, setErr := d.cache.Set(key, value, ttl)
	if setErr != nil {
		return toErrResult(setErr)
	}
	return val(toWireEncoding(enc), stored)
}

func (d *Dispatcher) doGet(key []byte) Result {
	enc, value, err := d.cache.Get(key)
	if err != nil {
		return toErrResult(err)
	}
	return val(toWireEncoding(enc), value)
}

func (d *Dispatcher) doTTL(key, secondsArg []byte) Result {
	seconds, err := parseSeconds(secondsArg)
	if err != nil {
		return errResult(proto.ErrMalformed)
	}
	return errOr(d.cache.TTL(key, seconds))
}

func (d *Dispatcher) doLock(key, secondsArg []byte) Result {
	seconds, err := parseSeconds(secondsArg)
	if err != nil {
		return errResult(proto.ErrMalformed)
	}
	return errOr(d.cache.Lock(key, seconds))
}

func (d *Dispatcher) doUnlock(key, secondsArg []byte) Result {
	seconds, err := parseSeconds(secondsArg)
	if err != nil {
		return errResult(proto.ErrMalformed)
	}
	return errOr(d.cache.Unlock(key, seconds))
}

func (d *Dispatcher) doCount(prefix []byte) Result {
	n := d.cache.Count(prefix)
	return val(proto.EncodingNumber, store.FormatNumber(int64(n)))
}

func (d *Dispatcher) doMTTL(prefix, secondsArg []byte) Result {
	seconds, err := parseSeconds(secondsArg)
	if err != nil {
		return errResult(proto.ErrMalformed)
	}
	return pairsOr(d.cache.MTTL(prefix, seconds))
}

func (d *Dispatcher) doMLock(prefix, secondsArg []byte) Result {
	seconds, err := parseSeconds(secondsArg)
	if err != nil {
		return errResult(proto.ErrMalformed)
	}
	return pairsOr(d.cache.MLock(prefix, seconds))
}

func parseSeconds(arg []byte) (int, error) {
	if len(arg) == 0 {
		return 0, nil
	}
	return strconv.Atoi(string(arg))
}

// errOr turns a plain error return into a Result, OK when nil.
func errOr(err error) Result {
	if err != nil {
		return toErrResult(err)
	}
	return ok()
}

// valOr turns a (encoding, value, error) cache call into a Result.
func valOr(enc store.Encoding, value []byte, err error) Result {
	if err != nil {
		return toErrResult(err)
	}
	return val(toWireEncoding(enc), value)
}

// pairsOr turns a ([]cache.Pair, error) subtree call into a Result.
func pairsOr(pairs []cache.Pair, err error) Result {
	if err != nil {
		return toErrResult(err)
	}
	out := make([]proto.KV, len(pairs))
	for i, p := range pairs {
		out[i] = proto.KV{Key: p.Key, Encoding: toWireEncoding(p.Encoding), Value: p.Value}
	}
	return kval(out)
}

func toWireEncoding(enc store.Encoding) proto.Encoding {
	switch enc {
	case store.Compressed:
		return proto.EncodingCompressed
	case store.Number:
		return proto.EncodingNumber
	default:
		return proto.EncodingPlain
	}
}

// toErrResult maps the cache package's sentinel errors onto the wire's
// error taxonomy (spec.md §7). A cache.ErrMalformed (request-level
// precondition failure, e.g. an oversized key) is distinct from
// proto.ErrMalformedFrame (a framing failure the connection can't
// recover from): this one gets a normal ERR reply, the connection stays
// open.
func toErrResult(err error) Result {
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return errResult(proto.ErrNotFound)
	case errors.Is(err, cache.ErrNaN):
		return errResult(proto.ErrNaN)
	case errors.Is(err, cache.ErrLocked):
		return errResult(proto.ErrLocked)
	case errors.Is(err, cache.ErrOOM):
		return errResult(proto.ErrOOM)
	default:
		var malformed cache.ErrMalformed
		if errors.As(err, &malformed) {
			return errResult(proto.ErrMalformed)
		}
		return errResult(proto.ErrInternal)
	}
}
