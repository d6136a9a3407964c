// Package cache bridges internal/index and internal/store into the one
// object spec.md §3's invariants are stated about: it is the only thing
// the dispatcher (internal/exec) and the maintenance cron (internal/cron)
// ever mutate, and by construction of SPEC_FULL.md §5 only one goroutine
// ever calls its mutating methods at a time.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/gibson-cache/gibson/internal/index"
	"github.com/gibson-cache/gibson/internal/store"
)

// Config carries the subset of internal/config's options that bound the
// cache's behavior (spec.md §6).
type Config struct {
	CompressionThreshold int   // bytes; 0 disables compression entirely
	MaxMemory            int64 // soft budget, spec.md §3 invariant 3
	GCRatio              int   // seconds; spec.md §3 invariant 5
	MaxKeySize           int
	MaxValueSize         int
	StaleIndexCapacity   int
}

// Pair is one key/value result row for subtree (M*) operations
// (spec.md §4.4 REPL_KVAL).
type Pair struct {
	Key      []byte
	Encoding store.Encoding
	Value    []byte
}

// Cache is the owned, single-writer object described above.
type Cache struct {
	cfg        Config
	tree       *index.Tree
	compressor store.Compressor
	now        func() time.Time // injectable for tests

	itemsCount      atomic.Int64
	memoryUsed      atomic.Int64
	peakMemory      atomic.Int64
	compressedCount atomic.Int64
	evictedCount    atomic.Int64
	expiredCount    atomic.Int64
	oomCount        atomic.Int64
	lockedCount     atomic.Int64
	sizeTotal       atomic.Int64 // running sum of plain payload sizes, for average-size stats
}

// New builds an empty Cache ready to serve commands.
func New(cfg Config, compressor store.Compressor) *Cache {
	return &Cache{
		cfg:        cfg,
		tree:       index.New(cfg.StaleIndexCapacity),
		compressor: compressor,
		now:        time.Now,
	}
}

func (c *Cache) validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrMalformed{"empty key"}
	}
	if c.cfg.MaxKeySize > 0 && len(key) > c.cfg.MaxKeySize {
		return ErrMalformed{"key too large"}
	}
	return nil
}

func (c *Cache) validateValue(value []byte) error {
	if c.cfg.MaxValueSize > 0 && len(value) > c.cfg.MaxValueSize {
		return ErrMalformed{"value too large"}
	}
	return nil
}

// ErrMalformed signals a request-level precondition violation distinct
// from the cache's own taxonomy (spec.md §7 "Malformed").
type ErrMalformed struct{ Reason string }

func (e ErrMalformed) Error() string { return "malformed request: " + e.Reason }

// encodeValue considers compression per spec.md §4.2: only when the
// plain value is at least CompressionThreshold bytes, and only when the
// codec actually shrinks it.
func (c *Cache) encodeValue(value []byte) (store.Encoding, []byte, int) {
	if c.cfg.CompressionThreshold > 0 && len(value) >= c.cfg.CompressionThreshold {
		if packed, ok := c.compressor.Compress(value); ok {
			return store.Compressed, packed, len(value)
		}
	}
	return store.Plain, value, len(value)
}

// materialize returns an item's plain, on-wire bytes regardless of how
// it's stored (spec.md §4.2: reads always materialize plain payloads).
func (c *Cache) materialize(item *store.Item) ([]byte, error) {
	if item.Encoding == store.Compressed {
		return c.compressor.Decompress(item.Bytes, item.PlainSize)
	}
	return item.Bytes, nil
}

func (c *Cache) touch(key []byte, item *store.Item) {
	item.Touch(c.now())
	c.tree.Touch(key, item.LastAccessAt)
}

// accountInsert/accountRemoval keep memoryUsed/itemsCount/compressedCount
// in lockstep with every tree mutation (spec.md §3 invariants 2 and 3).
func (c *Cache) accountInsert(key []byte, item *store.Item) {
	c.itemsCount.Add(1)
	delta := store.AccountedSize(key, item)
	used := c.memoryUsed.Add(delta)
	if used > c.peakMemory.Load() {
		c.peakMemory.Store(used)
	}
	c.sizeTotal.Add(int64(item.PlainSize))
	if item.Encoding == store.Compressed {
		c.compressedCount.Add(1)
	}
}

func (c *Cache) accountRemoval(key []byte, item *store.Item) {
	c.itemsCount.Add(-1)
	c.memoryUsed.Add(-store.AccountedSize(key, item))
	c.sizeTotal.Add(-int64(item.PlainSize))
	if item.Encoding == store.Compressed {
		c.compressedCount.Add(-1)
	}
}

func (c *Cache) accountReplace(key []byte, old, next *store.Item) {
	c.memoryUsed.Add(store.AccountedSize(key, next) - store.AccountedSize(key, old))
	used := c.memoryUsed.Load()
	if used > c.peakMemory.Load() {
		c.peakMemory.Store(used)
	}
	c.sizeTotal.Add(int64(next.PlainSize - old.PlainSize))
	if old.Encoding == store.Compressed {
		c.compressedCount.Add(-1)
	}
	if next.Encoding == store.Compressed {
		c.compressedCount.Add(1)
	}
}

// ensureBudget tries to make room for `extra` additional accounted
// bytes. It tries the stale-item eviction pass before declaring OOM, per
// spec.md §7 ("Allocation failure inside a command rolls back partial
// changes ... no state changes" — here achieved by never creating tree
// nodes until the budget check has already passed).
func (c *Cache) ensureBudget(extra int64) error {
	if c.cfg.MaxMemory <= 0 || c.memoryUsed.Load()+extra <= c.cfg.MaxMemory {
		return nil
	}
	c.evictStaleUntil(c.cfg.MaxMemory - extra)
	if c.memoryUsed.Load()+extra <= c.cfg.MaxMemory {
		return nil
	}
	c.oomCount.Add(1)
	return ErrOOM
}

func (c *Cache) lookupLive(key []byte) (*store.Item, bool) {
	node, ok := c.tree.Find(key)
	if !ok || !node.HasMarker() {
		return nil, false
	}
	item := node.Marker()
	if item.Expired(c.now()) {
		c.tree.Remove(key)
		c.accountRemoval(key, item)
		c.expiredCount.Add(1)
		return nil, false
	}
	return item, true
}

// Get implements spec.md §4.5 GET: returns the item's plain value and
// refreshes its last-access time. Reads are never blocked by a lock.
func (c *Cache) Get(key []byte) (store.Encoding, []byte, error) {
	if err := c.validateKey(key); err != nil {
		return 0, nil, err
	}
	item, ok := c.lookupLive(key)
	if !ok {
		return 0, nil, ErrNotFound
	}
	c.touch(key, item)
	plain, err := c.materialize(item)
	if err != nil {
		return 0, nil, err
	}
	return item.Encoding, plain, nil
}

// Set implements spec.md §4.5 SET: replace-or-create, returning the
// stored value's plain bytes.
func (c *Cache) Set(key, value []byte, ttlSeconds int) (store.Encoding, []byte, error) {
	if err := c.validateKey(key); err != nil {
		return 0, nil, err
	}
	if err := c.validateValue(value); err != nil {
		return 0, nil, err
	}
	now := c.now()
	existing, hadExisting := c.lookupLive(key)
	if hadExisting && existing.Locked(now) {
		c.lockedCount.Add(1)
		return 0, nil, ErrLocked
	}

	enc, bytes, plainSize := c.encodeValue(value)
	next := store.NewItem(enc, bytes, plainSize, ttlSeconds, now)

	var oldSize int64
	if hadExisting {
		oldSize = store.AccountedSize(key, existing)
	}
	newSize := store.AccountedSize(key, next)
	if delta := newSize - oldSize; delta > 0 {
		if err := c.ensureBudget(delta); err != nil {
			return 0, nil, err
		}
	}

	old := c.tree.Insert(key, next)
	if old != nil {
		c.accountReplace(key, old, next)
	} else {
		c.accountInsert(key, next)
	}
	return next.Encoding, value, nil
}

// Delete implements spec.md §4.5 DEL.
func (c *Cache) Delete(key []byte) error {
	if err := c.validateKey(key); err != nil {
		return err
	}
	item, ok := c.lookupLive(key)
	if !ok {
		return ErrNotFound
	}
	if item.Locked(c.now()) {
		c.lockedCount.Add(1)
		return ErrLocked
	}
	c.tree.Remove(key)
	c.accountRemoval(key, item)
	return nil
}

// incrDecr implements spec.md §4.5 INC/DEC: parse the current value,
// apply delta, re-store in the NUMBER encoding domain.
func (c *Cache) incrDecr(key []byte, delta int64) (store.Encoding, []byte, error) {
	if err := c.validateKey(key); err != nil {
		return 0, nil, err
	}
	item, ok := c.lookupLive(key)
	if !ok {
		return 0, nil, ErrNotFound
	}
	now := c.now()
	if item.Locked(now) {
		c.lockedCount.Add(1)
		return 0, nil, ErrLocked
	}
	plain, err := c.materialize(item)
	if err != nil {
		return 0, nil, err
	}
	n, err := store.ParseNumber(plain)
	if err != nil {
		return 0, nil, ErrNaN
	}
	n += delta
	value := store.FormatNumber(n)
	next := store.NewItem(store.Number, value, len(value), item.TTLSeconds, now)
	next.CreatedAt = item.CreatedAt // INC/DEC doesn't reset the TTL baseline
	next.LockedUntil = item.LockedUntil

	c.tree.Insert(key, next)
	c.accountReplace(key, item, next)
	return store.Number, value, nil
}

// Incr implements spec.md §4.5 INC.
func (c *Cache) Incr(key []byte) (store.Encoding, []byte, error) { return c.incrDecr(key, 1) }

// Decr implements spec.md §4.5 DEC.
func (c *Cache) Decr(key []byte) (store.Encoding, []byte, error) { return c.incrDecr(key, -1) }

// TTL implements spec.md §4.5 TTL: set the baseline to now, record
// seconds.
func (c *Cache) TTL(key []byte, seconds int) error {
	if err := c.validateKey(key); err != nil {
		return err
	}
	item, ok := c.lookupLive(key)
	if !ok {
		return ErrNotFound
	}
	now := c.now()
	if item.Locked(now) {
		c.lockedCount.Add(1)
		return ErrLocked
	}
	item.TTLSeconds = seconds
	item.CreatedAt = now.Unix()
	return nil
}

// Lock implements spec.md §4.5 LOCK; see DESIGN.md "Open Question
// decisions" for the seconds==0 semantics.
func (c *Cache) Lock(key []byte, seconds int) error {
	if err := c.validateKey(key); err != nil {
		return err
	}
	item, ok := c.lookupLive(key)
	if !ok {
		return ErrNotFound
	}
	if seconds <= 0 {
		item.LockedUntil = store.LockForever
	} else {
		item.LockedUntil = c.now().Unix() + int64(seconds)
	}
	return nil
}

// Unlock implements spec.md §4.5 UNLOCK.
func (c *Cache) Unlock(key []byte, _ int) error {
	if err := c.validateKey(key); err != nil {
		return err
	}
	item, ok := c.lookupLive(key)
	if !ok {
		return ErrNotFound
	}
	item.LockedUntil = 0
	return nil
}

// Count implements spec.md §4.5 COUNT: items under prefix.
func (c *Cache) Count(prefix []byte) int {
	return c.tree.CountUnder(prefix)
}
