// Package index implements the server's key index: a byte-keyed trie
// where each edge consumes one byte of the key and any node may carry a
// marker pointing at a live store.Item (spec.md §4.1).
package index

import "github.com/gibson-cache/gibson/internal/store"

// Node is one trie node. The empty key is never representable (spec.md
// §3): the root is a Node with no marker of its own, only children.
type Node struct {
	children map[byte]*Node
	marker   *store.Item
}

func newNode() *Node {
	return &Node{}
}

// Marker returns the item this node's key maps to, or nil if this node
// is an internal path node with no live key ending here.
func (n *Node) Marker() *store.Item { return n.marker }

// HasMarker reports whether a live key terminates at this node.
func (n *Node) HasMarker() bool { return n.marker != nil }

// Leaf reports whether the node has neither a marker nor children, i.e.
// it is safe to prune (spec.md §3 "Lifecycles").
func (n *Node) Leaf() bool { return n.marker == nil && len(n.children) == 0 }

func (n *Node) child(b byte) *Node {
	return n.children[b]
}

func (n *Node) ensureChild(b byte) *Node {
	if n.children == nil {
		n.children = make(map[byte]*Node, 1)
	}
	c, ok := n.children[b]
	if !ok {
		c = newNode()
		n.children[b] = c
	}
	return c
}
