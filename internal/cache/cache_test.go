package cache

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/gibson-cache/gibson/internal/store"
)

// testClock gives specs control over what Cache.now returns, the same
// way a production clock would only ever advance via real time.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time  { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(cfg Config) (*Cache, *testClock) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := New(cfg, store.NewLZ4Compressor())
	c.now = clock.now
	return c, clock
}

var _ = Describe("Cache", func() {
	Describe("Set and Get", func() {
		var c *Cache

		BeforeEach(func() {
			c, _ = newTestCache(Config{})
		})

		It("round-trips a plain value", func() {
			_, _, err := c.Set([]byte("name"), []byte("alice"), 0)
			Expect(err).NotTo(HaveOccurred())

			enc, value, err := c.Get([]byte("name"))
			Expect(err).NotTo(HaveOccurred())
			Expect(enc).To(Equal(store.Plain))
			Expect(string(value)).To(Equal("alice"))
		})

		It("reports ErrNotFound for an absent key", func() {
			_, _, err := c.Get([]byte("missing"))
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("rejects an empty key as malformed", func() {
			_, _, err := c.Set(nil, []byte("v"), 0)
			Expect(err).To(HaveOccurred())
			_, ok := err.(ErrMalformed)
			Expect(ok).To(BeTrue())
		})

		It("overwrites an existing key and keeps items_count stable", func() {
			_, _, _ = c.Set([]byte("k"), []byte("v1"), 0)
			Expect(c.Stats().ItemsCount).To(Equal(int64(1)))

			_, _, _ = c.Set([]byte("k"), []byte("v2"), 0)
			Expect(c.Stats().ItemsCount).To(Equal(int64(1)))

			_, value, _ := c.Get([]byte("k"))
			Expect(string(value)).To(Equal("v2"))
		})
	})

	Describe("compression", func() {
		It("stores large repetitive values compressed and still returns the original bytes", func() {
			c, _ := newTestCache(Config{CompressionThreshold: 64})
			payload := make([]byte, 8192)
			for i := range payload {
				payload[i] = 'a'
			}

			_, _, err := c.Set([]byte("blob"), payload, 0)
			Expect(err).NotTo(HaveOccurred())

			enc, value, err := c.Get([]byte("blob"))
			Expect(err).NotTo(HaveOccurred())
			Expect(enc).To(Equal(store.Compressed))
			Expect(value).To(Equal(payload))
		})

		It("leaves small values plain regardless of threshold", func() {
			c, _ := newTestCache(Config{CompressionThreshold: 64})
			_, _, _ = c.Set([]byte("k"), []byte("tiny"), 0)

			enc, _, _ := c.Get([]byte("k"))
			Expect(enc).To(Equal(store.Plain))
		})
	})

	Describe("TTL", func() {
		It("expires a key lazily on Get once its TTL elapses", func() {
			c, clock := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("v"), 5)

			clock.advance(4 * time.Second)
			_, _, err := c.Get([]byte("k"))
			Expect(err).NotTo(HaveOccurred())

			clock.advance(2 * time.Second)
			_, _, err = c.Get([]byte("k"))
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("removes expired keys on cron's ExpireTTL pass even without a read", func() {
			c, clock := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("v"), 5)
			clock.advance(10 * time.Second)

			removed := c.ExpireTTL()
			Expect(removed).To(Equal(1))
			Expect(c.Stats().ItemsCount).To(Equal(int64(0)))
		})

		It("rebases the TTL baseline to now via the TTL command", func() {
			c, clock := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("v"), 5)
			clock.advance(4 * time.Second)

			Expect(c.TTL([]byte("k"), 5)).To(Succeed())
			clock.advance(4 * time.Second)

			_, _, err := c.Get([]byte("k"))
			Expect(err).NotTo(HaveOccurred(), "TTL should have reset the 5s window")
		})
	})

	Describe("locking", func() {
		It("rejects writes to a locked key but still allows reads", func() {
			c, _ := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("v1"), 0)
			Expect(c.Lock([]byte("k"), 0)).To(Succeed())

			_, _, err := c.Set([]byte("k"), []byte("v2"), 0)
			Expect(err).To(MatchError(ErrLocked))

			_, value, err := c.Get([]byte("k"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(value)).To(Equal("v1"))
		})

		It("unlocks on request", func() {
			c, _ := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("v1"), 0)
			Expect(c.Lock([]byte("k"), 0)).To(Succeed())
			Expect(c.Unlock([]byte("k"), 0)).To(Succeed())

			_, _, err := c.Set([]byte("k"), []byte("v2"), 0)
			Expect(err).NotTo(HaveOccurred())
		})

		It("expires a timed lock on its own", func() {
			c, clock := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("v1"), 0)
			Expect(c.Lock([]byte("k"), 5)).To(Succeed())

			clock.advance(6 * time.Second)
			_, _, err := c.Set([]byte("k"), []byte("v2"), 0)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Incr and Decr", func() {
		It("increments and decrements a numeric item", func() {
			c, _ := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("10"), 0)

			_, value, err := c.Incr([]byte("k"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(value)).To(Equal("11"))

			_, value, err = c.Decr([]byte("k"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(value)).To(Equal("10"))
		})

		It("reports ErrNaN for a non-numeric item", func() {
			c, _ := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("alice"), 0)

			_, _, err := c.Incr([]byte("k"))
			Expect(err).To(MatchError(ErrNaN))
		})

		It("does not reset the TTL baseline", func() {
			c, clock := newTestCache(Config{})
			_, _, _ = c.Set([]byte("k"), []byte("10"), 5)
			clock.advance(4 * time.Second)
			_, _, _ = c.Incr([]byte("k"))
			clock.advance(2 * time.Second)

			_, _, err := c.Get([]byte("k"))
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("subtree operations", func() {
		var c *Cache

		BeforeEach(func() {
			c, _ = newTestCache(Config{})
			_, _, _ = c.Set([]byte("user:1:name"), []byte("alice"), 0)
			_, _, _ = c.Set([]byte("user:1:age"), []byte("30"), 0)
			_, _, _ = c.Set([]byte("user:2:name"), []byte("bob"), 0)
		})

		It("MGet returns every live pair under the prefix", func() {
			pairs, err := c.MGet([]byte("user:1:"))
			Expect(err).NotTo(HaveOccurred())
			Expect(pairs).To(HaveLen(2))
		})

		It("MSet overwrites existing keys without creating new ones", func() {
			pairs, err := c.MSet([]byte("user:1:"), []byte("redacted"))
			Expect(err).NotTo(HaveOccurred())
			Expect(pairs).To(HaveLen(2))

			_, _, err = c.Get([]byte("user:1:email"))
			Expect(err).To(MatchError(ErrNotFound), "MSET must never create keys")

			_, value, _ := c.Get([]byte("user:1:name"))
			Expect(string(value)).To(Equal("redacted"))
		})

		It("MDel removes only the matching subtree", func() {
			pairs, err := c.MDel([]byte("user:1:"))
			Expect(err).NotTo(HaveOccurred())
			Expect(pairs).To(HaveLen(2))

			Expect(c.Count([]byte("user:1:"))).To(Equal(0))
			Expect(c.Count([]byte("user:2:"))).To(Equal(1))
		})

		It("MInc skips non-numeric items without failing the whole pass", func() {
			_, _, _ = c.Set([]byte("user:1:score"), []byte("5"), 0)

			// user:1:age ("30") is numeric too; only user:1:name is skipped
			pairs, err := c.MInc([]byte("user:1:"))
			Expect(err).NotTo(HaveOccurred())
			Expect(pairs).To(HaveLen(2))
			got := map[string]string{}
			for _, p := range pairs {
				got[string(p.Key)] = string(p.Value)
			}
			Expect(got).To(Equal(map[string]string{"user:1:age": "31", "user:1:score": "6"}))
		})
	})

	Describe("memory pressure", func() {
		It("returns ErrOOM when the budget cannot be met even after an eviction pass", func() {
			c, _ := newTestCache(Config{MaxMemory: 1})
			_, _, err := c.Set([]byte("k"), []byte("v"), 0)
			Expect(err).To(MatchError(ErrOOM))
		})

		It("evicts a stale item to make room for a new one", func() {
			c, clock := newTestCache(Config{MaxMemory: 300, GCRatio: 5})
			_, _, err := c.Set([]byte("old"), make([]byte, 100), 0)
			Expect(err).NotTo(HaveOccurred())

			clock.advance(10 * time.Second)
			before := c.Stats().MemoryUsed

			_, _, err = c.Set([]byte("new"), make([]byte, 100), 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Stats().MemoryUsed).To(BeNumerically("<", before+200))
			_, _, err = c.Get([]byte("old"))
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
