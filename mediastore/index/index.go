// Package index implements the in-memory relation index: a symmetric,
// interned graph of (key, value) pairs tied by a named source. For every
// stored relationship both directions are present, so either side can be
// queried. Each key additionally keeps its values in sorted order to
// answer equality, range and monotone predicate searches by binary
// search.
package index

import (
	"sort"

	"github.com/trofi/mediastore/mediastore"
)

// Edge is one "right side" stored under a bucket: the other key, the
// other value, and the source that asserted the relationship.
type Edge struct {
	Key *string
	Val mediastore.Value
	Src *string
}

// Bucket is the per-(key, value) document. Its pointer is the stable
// reference the sorted indexes hold; it never moves for the lifetime of
// the value under its key.
type Bucket struct {
	Key   *string
	Val   mediastore.Value
	edges []Edge
}

// Edges returns the right sides in insertion order. The slice is owned by
// the bucket; callers must not mutate it.
func (b *Bucket) Edges() []Edge {
	return b.edges
}

func (b *Bucket) findEdge(key *string, val mediastore.Value, src *string) int {
	for i, e := range b.edges {
		if e.Key == key && e.Val == val && e.Src == src {
			return i
		}
	}
	return -1
}

type slot struct {
	val mediastore.Value
	doc *Bucket
}

// KeyIndex holds every value present under one key: the primary
// value->bucket map and the auxiliary sorted sequence over the same
// buckets.
type KeyIndex struct {
	buckets map[mediastore.Value]*Bucket
	sorted  []slot
}

// Len returns the number of distinct values under the key.
func (k *KeyIndex) Len() int {
	return len(k.sorted)
}

// Lookup returns the bucket for an exact value, or nil.
func (k *KeyIndex) Lookup(val mediastore.Value) *Bucket {
	return k.buckets[val]
}

// bsearch returns the position of the first probe that cmp reports as a
// match (not necessarily the lowest matching position), or, when no probe
// matches, the lowest position whose value does not compare below the
// target. cmp compares a stored value against the target: negative when
// the stored value sorts before it, zero on a match.
func (k *KeyIndex) bsearch(cmp func(mediastore.Value) int) int {
	lo, hi := 0, len(k.sorted)
	for hi-lo > 0 {
		m := (hi + lo) / 2
		c := cmp(k.sorted[m].val)
		if c == 0 {
			return m
		}
		if c < 0 {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

// Search returns the buckets whose values cmp reports as matching. cmp
// must be monotone over the value order: negative for values before the
// matching range, zero inside it, positive after it. The matching range
// is contiguous, so one probe plus a scan in each direction covers it.
func (k *KeyIndex) Search(cmp func(mediastore.Value) int) []*Bucket {
	i := k.bsearch(cmp)
	if i >= len(k.sorted) || cmp(k.sorted[i].val) != 0 {
		return nil
	}

	for i > 0 && cmp(k.sorted[i-1].val) == 0 {
		i--
	}

	var found []*Bucket
	for ; i < len(k.sorted) && cmp(k.sorted[i].val) == 0; i++ {
		found = append(found, k.sorted[i].doc)
	}
	return found
}

// Scan returns the buckets whose values satisfy pred, in value order.
// Used by filters whose match set is not contiguous in sorted order
// (globs, tokens, caseless comparisons).
func (k *KeyIndex) Scan(pred func(mediastore.Value) bool) []*Bucket {
	var found []*Bucket
	for _, s := range k.sorted {
		if pred(s.val) {
			found = append(found, s.doc)
		}
	}
	return found
}

// Each calls f for every bucket in value order.
func (k *KeyIndex) Each(f func(*Bucket)) {
	for _, s := range k.sorted {
		f(s.doc)
	}
}

func (k *KeyIndex) insertBucket(key *string, val mediastore.Value) *Bucket {
	if b, ok := k.buckets[val]; ok {
		return b
	}

	b := &Bucket{Key: key, Val: val}
	k.buckets[val] = b

	i := k.bsearch(func(v mediastore.Value) int { return v.Compare(val) })
	k.sorted = append(k.sorted, slot{})
	copy(k.sorted[i+1:], k.sorted[i:])
	k.sorted[i] = slot{val: val, doc: b}
	return b
}

func (k *KeyIndex) removeBucket(val mediastore.Value) {
	delete(k.buckets, val)

	i := k.bsearch(func(v mediastore.Value) int { return v.Compare(val) })
	if i < len(k.sorted) && k.sorted[i].val == val {
		k.sorted = append(k.sorted[:i], k.sorted[i+1:]...)
	}
}

// Index is the primary in-memory store. All atoms reaching it are the
// interned representatives from the owning handle's tables, so map keys
// and pointer comparisons are semantic.
type Index struct {
	keys map[*string]*KeyIndex
}

// New creates an empty index.
func New() *Index {
	return &Index{keys: make(map[*string]*KeyIndex)}
}

// Key returns the index for a key, or nil when the key holds no values.
func (ix *Index) Key(key *string) *KeyIndex {
	return ix.keys[key]
}

// Bucket returns the bucket for (key, val), or nil.
func (ix *Index) Bucket(key *string, val mediastore.Value) *Bucket {
	k, ok := ix.keys[key]
	if !ok {
		return nil
	}
	return k.buckets[val]
}

func (ix *Index) ensure(key *string, val mediastore.Value) *Bucket {
	k, ok := ix.keys[key]
	if !ok {
		k = &KeyIndex{buckets: make(map[mediastore.Value]*Bucket)}
		ix.keys[key] = k
	}
	return k.insertBucket(key, val)
}

// Add stores the relationship (ka, va, kb, vb, src) in both directions.
// It returns false when the identical 5-tuple is already present; the
// index is unchanged in that case.
func (ix *Index) Add(ka *string, va mediastore.Value, kb *string, vb mediastore.Value, src *string) bool {
	if a := ix.Bucket(ka, va); a != nil && a.findEdge(kb, vb, src) >= 0 {
		return false
	}

	a := ix.ensure(ka, va)
	a.edges = append(a.edges, Edge{Key: kb, Val: vb, Src: src})

	b := ix.ensure(kb, vb)
	if b.findEdge(ka, va, src) < 0 {
		b.edges = append(b.edges, Edge{Key: ka, Val: va, Src: src})
	}
	return true
}

// Del removes the relationship (ka, va, kb, vb, src) from both
// directions. It returns false when no identical 5-tuple is present.
// Buckets left without edges are removed from the primary map and the
// sorted sequence.
func (ix *Index) Del(ka *string, va mediastore.Value, kb *string, vb mediastore.Value, src *string) bool {
	a := ix.Bucket(ka, va)
	if a == nil {
		return false
	}
	i := a.findEdge(kb, vb, src)
	if i < 0 {
		return false
	}
	a.edges = append(a.edges[:i], a.edges[i+1:]...)
	if len(a.edges) == 0 {
		ix.keys[ka].removeBucket(va)
		if ix.keys[ka].Len() == 0 {
			delete(ix.keys, ka)
		}
	}

	b := ix.Bucket(kb, vb)
	if b != nil {
		if j := b.findEdge(ka, va, src); j >= 0 {
			b.edges = append(b.edges[:j], b.edges[j+1:]...)
		}
		if len(b.edges) == 0 {
			ix.keys[kb].removeBucket(vb)
			if ix.keys[kb].Len() == 0 {
				delete(ix.keys, kb)
			}
		}
	}
	return true
}

// Has reports whether the exact 5-tuple is stored.
func (ix *Index) Has(ka *string, va mediastore.Value, kb *string, vb mediastore.Value, src *string) bool {
	a := ix.Bucket(ka, va)
	return a != nil && a.findEdge(kb, vb, src) >= 0
}

// SortedKeys returns the keys in ascending string order.
func (ix *Index) SortedKeys() []*string {
	keys := make([]*string, 0, len(ix.keys))
	for k := range ix.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return *keys[i] < *keys[j] })
	return keys
}

// Each calls f for every bucket, keys in ascending order and values in
// sorted order under each key. The deterministic walk is what snapshot
// serialization and complement evaluation iterate.
func (ix *Index) Each(f func(*Bucket)) {
	for _, k := range ix.SortedKeys() {
		ix.keys[k].Each(f)
	}
}

// Buckets returns the total number of (key, value) buckets.
func (ix *Index) Buckets() int {
	n := 0
	for _, k := range ix.keys {
		n += len(k.sorted)
	}
	return n
}
