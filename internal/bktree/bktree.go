// Package bktree implements a BK-tree metric index over 256-bit PDQ hashes
// under Hamming distance, used by the Search Coordinator to find candidate
// frames within a similarity radius without comparing against every frame
// in the store.
//
// A BK-tree exploits the triangle inequality: each node's children are
// keyed by their exact distance from the node, so a radius query only
// descends into children whose distance band can possibly contain a point
// within the query radius.
package bktree

import (
	"github.com/hydrusvideodeduplicator/hvdedup/internal/pdqhash"
)

// Item is one indexed frame hash: which media it came from and at what
// position among that media's retained (not low-quality) frames.
type Item struct {
	Hash       pdqhash.Hash
	MediaID    string
	FrameIndex int
}

type node struct {
	item     Item
	children map[int]*node // keyed by distance from this node
}

// Tree is a BK-tree over Item.Hash under Hamming distance. The zero value
// is an empty tree ready to use.
type Tree struct {
	root  *node
	count int
	order []Item // insertion order, for SnapshotTo (spec §4.5)
}

// Len returns the number of items in the tree.
func (t *Tree) Len() int { return t.count }

// Add inserts item into the tree.
func (t *Tree) Add(item Item) {
	t.count++
	t.order = append(t.order, item)
	if t.root == nil {
		t.root = &node{item: item}
		return
	}
	n := t.root
	for {
		d := pdqhash.Distance(n.item.Hash, item.Hash)
		if d == 0 {
			// Exact hash collision: still index it, keyed under its own
			// bucket so RadiusQuery finds every item sharing a hash.
			d = -1
			if n.children == nil {
				n.children = make(map[int]*node)
			}
			if child, ok := n.children[d]; ok {
				n = child
				continue
			}
			n.children[d] = &node{item: item}
			return
		}
		if n.children == nil {
			n.children = make(map[int]*node)
		}
		child, ok := n.children[d]
		if !ok {
			n.children[d] = &node{item: item}
			return
		}
		n = child
	}
}

// RadiusQuery returns every item whose Hamming distance to query is <= radius.
func (t *Tree) RadiusQuery(query pdqhash.Hash, radius int) []Item {
	var out []Item
	if t.root == nil {
		return out
	}
	t.visit(t.root, query, radius, &out)
	return out
}

func (t *Tree) visit(n *node, query pdqhash.Hash, radius int, out *[]Item) {
	d := pdqhash.Distance(n.item.Hash, query)
	if d <= radius {
		*out = append(*out, n.item)
	}
	for edgeDist, child := range n.children {
		bucket := edgeDist
		if bucket == -1 {
			bucket = 0 // exact-collision bucket sits at distance 0 from its parent
		}
		// Triangle inequality: only descend if the query can be within
		// radius of some point at edge distance bucket from n.
		if bucket >= d-radius && bucket <= d+radius {
			t.visit(child, query, radius, out)
		}
	}
}

// RebuildFrom repopulates the tree from scratch with items, discarding
// whatever was previously indexed. Rebuild is the only supported way to
// remove items: a BK-tree does not support in-place deletion without
// reshaping subtrees, and the store is always the tree's authoritative
// source (spec §4.5).
func (t *Tree) RebuildFrom(items []Item) {
	*t = Tree{}
	for _, it := range items {
		t.Add(it)
	}
}

// All returns every item in the tree in traversal order. The order is
// unspecified and may differ between calls, since children are visited in
// map iteration order.
func (t *Tree) All() []Item {
	out := make([]Item, 0, t.count)
	if t.root != nil {
		t.collect(t.root, &out)
	}
	return out
}

func (t *Tree) collect(n *node, out *[]Item) {
	*out = append(*out, n.item)
	for _, child := range n.children {
		t.collect(child, out)
	}
}
