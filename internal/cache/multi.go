package cache

import "github.com/gibson-cache/gibson/internal/store"

// MGet implements spec.md §4.5 MGET: every live item under prefix.
func (c *Cache) MGet(prefix []byte) ([]Pair, error) {
	root, ok := c.tree.Subtree(prefix)
	if !ok {
		return nil, nil
	}
	var out []Pair
	now := c.now()
	c.tree.Recurse(root, prefix, func(key []byte, item *store.Item) bool {
		if item.Expired(now) {
			c.accountRemoval(key, item)
			c.expiredCount.Add(1)
			return true
		}
		item.Touch(now)
		c.tree.Touch(key, item.LastAccessAt)
		plain, err := c.materialize(item)
		if err == nil {
			out = append(out, Pair{Key: append([]byte(nil), key...), Encoding: item.Encoding, Value: plain})
		}
		return false
	})
	return out, nil
}

// MSet implements spec.md §4.5 MSET: overwrite every existing key under
// prefix with value, never creating new keys (DESIGN.md "Open Question
// decisions").
func (c *Cache) MSet(prefix, value []byte) ([]Pair, error) {
	if err := c.validateValue(value); err != nil {
		return nil, err
	}
	root, ok := c.tree.Subtree(prefix)
	if !ok {
		return nil, nil
	}
	enc, bytes, plainSize := c.encodeValue(value)
	var out []Pair
	now := c.now()
	c.tree.Recurse(root, prefix, func(key []byte, item *store.Item) bool {
		if item.Expired(now) {
			c.accountRemoval(key, item)
			c.expiredCount.Add(1)
			return true
		}
		if item.Locked(now) {
			c.lockedCount.Add(1)
			return false
		}
		next := store.NewItem(enc, bytes, plainSize, item.TTLSeconds, now)
		next.LockedUntil = item.LockedUntil
		k := append([]byte(nil), key...)
		c.tree.Insert(k, next)
		c.accountReplace(k, item, next)
		out = append(out, Pair{Key: k, Encoding: next.Encoding, Value: value})
		return false
	})
	return out, nil
}

// MDel implements spec.md §4.5 MDEL: remove every live, unlocked item
// under prefix, reporting what was removed.
func (c *Cache) MDel(prefix []byte) ([]Pair, error) {
	root, ok := c.tree.Subtree(prefix)
	if !ok {
		return nil, nil
	}
	var out []Pair
	now := c.now()
	c.tree.Recurse(root, prefix, func(key []byte, item *store.Item) bool {
		if item.Locked(now) && !item.Expired(now) {
			c.lockedCount.Add(1)
			return false
		}
		plain, err := c.materialize(item)
		if err == nil {
			out = append(out, Pair{Key: append([]byte(nil), key...), Encoding: item.Encoding, Value: plain})
		}
		if item.Expired(now) {
			c.expiredCount.Add(1)
		}
		c.accountRemoval(key, item)
		return true
	})
	return out, nil
}

// MTTL implements spec.md §4.5 MTTL: rebase the TTL of every live item
// under prefix.
func (c *Cache) MTTL(prefix []byte, seconds int) ([]Pair, error) {
	return c.mutateSubtree(prefix, func(item *store.Item, now int64) {
		item.TTLSeconds = seconds
		item.CreatedAt = now
	})
}

// MLock implements spec.md §4.5 MLOCK.
func (c *Cache) MLock(prefix []byte, seconds int) ([]Pair, error) {
	return c.mutateSubtree(prefix, func(item *store.Item, now int64) {
		if seconds <= 0 {
			item.LockedUntil = store.LockForever
		} else {
			item.LockedUntil = now + int64(seconds)
		}
	})
}

// MUnlock implements spec.md §4.5 MUNLOCK.
func (c *Cache) MUnlock(prefix []byte) ([]Pair, error) {
	return c.mutateSubtree(prefix, func(item *store.Item, _ int64) {
		item.LockedUntil = 0
	})
}

// mutateSubtree applies mut in place to every live item under prefix and
// returns the post-mutation pairs. Items found already expired are removed
// (and counted as expired) instead of being mutated; it never evicts.
func (c *Cache) mutateSubtree(prefix []byte, mut func(item *store.Item, nowUnix int64)) ([]Pair, error) {
	root, ok := c.tree.Subtree(prefix)
	if !ok {
		return nil, nil
	}
	var out []Pair
	now := c.now()
	c.tree.Recurse(root, prefix, func(key []byte, item *store.Item) bool {
		if item.Expired(now) {
			c.accountRemoval(key, item)
			c.expiredCount.Add(1)
			return true
		}
		mut(item, now.Unix())
		plain, err := c.materialize(item)
		if err == nil {
			out = append(out, Pair{Key: append([]byte(nil), key...), Encoding: item.Encoding, Value: plain})
		}
		return false
	})
	return out, nil
}

// MInc implements spec.md §4.5 MINC: increment every numeric item under
// prefix, silently skipping non-numeric ones (DESIGN.md "Open Question
// decisions").
func (c *Cache) MInc(prefix []byte) ([]Pair, error) { return c.mIncDec(prefix, 1) }

// MDec implements spec.md §4.5 MDEC.
func (c *Cache) MDec(prefix []byte) ([]Pair, error) { return c.mIncDec(prefix, -1) }

func (c *Cache) mIncDec(prefix []byte, delta int64) ([]Pair, error) {
	root, ok := c.tree.Subtree(prefix)
	if !ok {
		return nil, nil
	}
	var out []Pair
	now := c.now()
	c.tree.Recurse(root, prefix, func(key []byte, item *store.Item) bool {
		if item.Expired(now) {
			c.accountRemoval(key, item)
			c.expiredCount.Add(1)
			return true
		}
		if item.Locked(now) {
			c.lockedCount.Add(1)
			return false
		}
		plain, err := c.materialize(item)
		if err != nil {
			return false
		}
		n, err := store.ParseNumber(plain)
		if err != nil {
			return false // not a number: skip, don't fail the whole sweep
		}
		n += delta
		value := store.FormatNumber(n)
		next := store.NewItem(store.Number, value, len(value), item.TTLSeconds, now)
		next.CreatedAt = item.CreatedAt
		next.LockedUntil = item.LockedUntil
		k := append([]byte(nil), key...)
		c.tree.Insert(k, next)
		c.accountReplace(k, item, next)
		out = append(out, Pair{Key: k, Encoding: store.Number, Value: value})
		return false
	})
	return out, nil
}
