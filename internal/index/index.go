package index

import (
	lru "github.com/hashicorp/golang-lru/v2"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/gibson-cache/gibson/internal/store"
)

// Tree is the server's key index: a single root Node plus the two
// accelerator structures described in SPEC_FULL.md §6.2 — a cuckoo filter
// for fast-negative exact/GET lookups, and an LRU-ordered key index cron
// consults before falling back to a full Recurse for memory-pressure
// eviction candidates.
type Tree struct {
	root *Node

	filter          *cuckoo.Filter
	filterSaturated bool // once true, the filter's negative answers are no longer trusted

	staleIdx *lru.Cache[string, int64] // key -> last known LastAccessAt, ordered oldest-first
}

// New builds an empty Tree. staleIndexCapacity bounds the auxiliary
// staleness index (internal/cache passes its Config.StaleIndexCapacity,
// which internal/server sets to a fixed 4096); it is purely an
// optimization, never a correctness requirement.
func New(staleIndexCapacity int) *Tree {
	if staleIndexCapacity <= 0 {
		staleIndexCapacity = 1 << 16
	}
	staleIdx, _ := lru.New[string, int64](staleIndexCapacity)
	return &Tree{
		root:     newNode(),
		filter:   cuckoo.NewFilter(1 << 20),
		staleIdx: staleIdx,
	}
}

// Find walks k byte-by-byte from the root and returns the node exactly at
// the end of that path, iff the full key matches (spec.md §4.1).
func (t *Tree) Find(k []byte) (*Node, bool) {
	if !t.maybePresent(k) {
		return nil, false
	}
	n := t.root
	for _, b := range k {
		n = n.child(b)
		if n == nil {
			return nil, false
		}
	}
	return n, true
}

// maybePresent consults the cuckoo filter for a fast "definitely absent"
// answer. It never produces a false "absent" once the filter has
// saturated (see filterSaturated), so callers may always trust a false
// return from this method, but must still walk the trie when it returns
// true (filters have false positives, never false negatives here).
func (t *Tree) maybePresent(k []byte) bool {
	if t.filterSaturated {
		return true
	}
	return t.filter.Lookup(k)
}

// Insert creates any missing path nodes for k and sets the terminal
// node's marker to item, returning the item it replaced (nil if k was
// previously absent).
func (t *Tree) Insert(k []byte, item *store.Item) *store.Item {
	n := t.root
	for _, b := range k {
		n = n.ensureChild(b)
	}
	old := n.marker
	n.marker = item
	if old == nil {
		if !t.filter.InsertUnique(k) {
			t.filterSaturated = true
		}
	}
	t.staleIdx.Add(string(k), item.LastAccessAt)
	return old
}

// Touch updates the staleness index for an existing key after its item's
// LastAccessAt has been refreshed by a read or write. It does not touch
// the trie itself.
func (t *Tree) Touch(k []byte, lastAccessAt int64) {
	t.staleIdx.Add(string(k), lastAccessAt)
}

// Remove detaches and returns the terminal marker for k, pruning any
// path nodes left with neither marker nor children (spec.md §3
// "Lifecycles": eager reclaim is an implementation choice).
func (t *Tree) Remove(k []byte) (*store.Item, bool) {
	path := make([]*Node, 0, len(k)+1)
	path = append(path, t.root)
	n := t.root
	for _, b := range k {
		n = n.child(b)
		if n == nil {
			return nil, false
		}
		path = append(path, n)
	}
	if n.marker == nil {
		return nil, false
	}
	item := n.marker
	n.marker = nil
	t.filter.Delete(k)
	t.staleIdx.Remove(string(k))

	// prune dead leaves bottom-up, stopping at the root or at the first
	// node still needed by another key.
	for i := len(path) - 1; i > 0; i-- {
		if !path[i].Leaf() {
			break
		}
		delete(path[i-1].children, k[i-1])
	}
	return item, true
}

// Subtree locates the node reached by walking prefix; the set of keys
// sharing that prefix is exactly the set of marked descendants of the
// returned node, including the node itself (spec.md §4.1).
func (t *Tree) Subtree(prefix []byte) (*Node, bool) {
	n := t.root
	for _, b := range prefix {
		n = n.child(b)
		if n == nil {
			return nil, false
		}
	}
	return n, true
}

// Visit is called once per descendant of a subtree root that carries a
// live marker, in depth-first order. fullKey is the complete key for
// that marker, valid only for the duration of the call. Returning true
// tells Recurse to delete that marker (and prune the node if it becomes
// a leaf) once the whole walk has finished.
type Visit func(fullKey []byte, item *store.Item) (delete bool)

// Recurse depth-first walks every descendant of root (inclusive),
// invoking visit for each live marker. Deletions are collected into a
// drain list during the walk and only applied once the walk of that
// subtree has completed, so mutating a marker's liveness from inside
// visit never perturbs the traversal itself (spec.md §9 "Replacing the
// recurse-with-mutation idiom").
func (t *Tree) Recurse(root *Node, prefix []byte, visit Visit) (deleted int) {
	type hit struct {
		key []byte
	}
	var drain []hit

	var walk func(n *Node, key []byte)
	walk = func(n *Node, key []byte) {
		if n.marker != nil {
			k := append([]byte(nil), key...)
			if visit(k, n.marker) {
				drain = append(drain, hit{key: k})
			}
		}
		for b, c := range n.children {
			walk(c, append(key, b))
		}
	}
	walk(root, append([]byte(nil), prefix...))

	for _, h := range drain {
		if _, ok := t.Remove(h.key); ok {
			deleted++
		}
	}
	return deleted
}

// CountUnder returns the number of live markers in the subtree rooted at
// prefix (spec.md §4.5 COUNT).
func (t *Tree) CountUnder(prefix []byte) int {
	root, ok := t.Subtree(prefix)
	if !ok {
		return 0
	}
	n := 0
	t.Recurse(root, prefix, func([]byte, *store.Item) bool {
		n++
		return false
	})
	return n
}

// StaleCandidates returns up to limit keys, oldest-first, that have not
// been touched in at least gcRatio seconds as of now — a cheap shortlist
// for cron's memory-pressure pass (SPEC_FULL.md §6.2). The caller must
// still re-validate each key against the live tree before deleting it:
// this index can lag a concurrent Insert that hasn't called Touch yet.
func (t *Tree) StaleCandidates(now int64, gcRatio int, limit int) [][]byte {
	keys := t.staleIdx.Keys() // oldest-used first
	out := make([][]byte, 0, limit)
	for _, k := range keys {
		lastAccessAt, ok := t.staleIdx.Peek(k)
		if !ok {
			continue
		}
		if now-lastAccessAt < int64(gcRatio) {
			break // Keys() is oldest-first, so nothing after this is stale either
		}
		out = append(out, []byte(k))
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Root exposes the tree's root node for callers (cron) that recurse the
// whole tree rather than a subtree.
func (t *Tree) Root() *Node { return t.root }
