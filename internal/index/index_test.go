package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibson-cache/gibson/internal/store"
)

func item(v string) *store.Item {
	return store.NewItem(store.Plain, []byte(v), len(v), 0, time.Unix(1000, 0))
}

func TestTree_InsertFindRemove(t *testing.T) {
	tr := New(0)

	old := tr.Insert([]byte("alice"), item("30"))
	assert.Nil(t, old, "first insert has nothing to replace")

	node, ok := tr.Find([]byte("alice"))
	require.True(t, ok)
	require.True(t, node.HasMarker())
	assert.Equal(t, "30", string(node.Marker().Bytes))

	_, ok = tr.Find([]byte("bob"))
	assert.False(t, ok, "unrelated key must not be found")

	old = tr.Insert([]byte("alice"), item("31"))
	require.NotNil(t, old)
	assert.Equal(t, "30", string(old.Bytes))

	removed, ok := tr.Remove([]byte("alice"))
	require.True(t, ok)
	assert.Equal(t, "31", string(removed.Bytes))

	_, ok = tr.Find([]byte("alice"))
	assert.False(t, ok)
}

func TestTree_FindDoesNotMatchPrefixOfALongerKey(t *testing.T) {
	tr := New(0)
	tr.Insert([]byte("al"), item("x"))

	_, ok := tr.Find([]byte("alice"))
	assert.False(t, ok, "a key must match exactly, not just share a prefix")
}

func TestTree_RemovePrunesDeadPathNodes(t *testing.T) {
	tr := New(0)
	tr.Insert([]byte("user:1:name"), item("alice"))
	tr.Insert([]byte("user:1:age"), item("30"))

	_, ok := tr.Remove([]byte("user:1:name"))
	require.True(t, ok)

	// the sibling key must still resolve after its sibling's path is pruned
	node, ok := tr.Find([]byte("user:1:age"))
	require.True(t, ok)
	assert.Equal(t, "30", string(node.Marker().Bytes))
}

func TestTree_SubtreeAndRecurseVisitEveryDescendant(t *testing.T) {
	tr := New(0)
	tr.Insert([]byte("user:1:name"), item("alice"))
	tr.Insert([]byte("user:1:age"), item("30"))
	tr.Insert([]byte("user:2:name"), item("bob"))

	root, ok := tr.Subtree([]byte("user:1:"))
	require.True(t, ok)

	var keys []string
	tr.Recurse(root, []byte("user:1:"), func(fullKey []byte, _ *store.Item) bool {
		keys = append(keys, string(fullKey))
		return false
	})
	assert.ElementsMatch(t, []string{"user:1:name", "user:1:age"}, keys)
}

func TestTree_RecurseDeleteDoesNotPerturbTraversal(t *testing.T) {
	tr := New(0)
	for _, k := range []string{"a:1", "a:2", "a:3", "a:4", "a:5"} {
		tr.Insert([]byte(k), item("v"))
	}

	deleted := tr.Recurse(tr.Root(), nil, func(fullKey []byte, _ *store.Item) bool {
		return len(fullKey) > 0 && fullKey[len(fullKey)-1]%2 == 1 // delete odd-numbered keys
	})
	assert.Equal(t, 3, deleted) // a:1, a:3, a:5

	for _, k := range []string{"a:2", "a:4"} {
		_, ok := tr.Find([]byte(k))
		assert.True(t, ok, "%s must survive the pass", k)
	}
	for _, k := range []string{"a:1", "a:3", "a:5"} {
		_, ok := tr.Find([]byte(k))
		assert.False(t, ok, "%s must have been removed", k)
	}
}

func TestTree_CountUnder(t *testing.T) {
	tr := New(0)
	tr.Insert([]byte("q:1"), item("v"))
	tr.Insert([]byte("q:2"), item("v"))
	tr.Insert([]byte("z:1"), item("v"))

	assert.Equal(t, 2, tr.CountUnder([]byte("q:")))
	assert.Equal(t, 0, tr.CountUnder([]byte("missing:")))
	assert.Equal(t, 3, tr.CountUnder(nil))
}

func TestTree_StaleCandidatesOrderedOldestFirst(t *testing.T) {
	tr := New(0)
	tr.Insert([]byte("old"), item("v"))
	tr.Touch([]byte("old"), 100)
	tr.Insert([]byte("new"), item("v"))
	tr.Touch([]byte("new"), 900)

	got := tr.StaleCandidates(1000, 50, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "old", string(got[0]))
	assert.Equal(t, "new", string(got[1]))
}

func TestTree_StaleCandidatesExcludesFreshKeys(t *testing.T) {
	tr := New(0)
	tr.Insert([]byte("fresh"), item("v"))
	tr.Touch([]byte("fresh"), 995)

	got := tr.StaleCandidates(1000, 50, 10)
	assert.Empty(t, got)
}

func TestTree_FilterNeverFalseNegatives(t *testing.T) {
	tr := New(0)
	const n = 2000
	keys := make([][]byte, n)
	for i := range keys {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		keys[i] = k
		tr.Insert(k, item("v"))
	}
	for _, k := range keys {
		_, ok := tr.Find(k)
		assert.True(t, ok, "every inserted key must be found regardless of filter saturation")
	}
}
