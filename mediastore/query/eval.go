package query

import (
	"sort"
	"strings"

	"github.com/trofi/mediastore/mediastore"
	"github.com/trofi/mediastore/mediastore/index"
)

// Run evaluates cond against ix and projects every matching entry through
// spec. A nil cond matches every entry; a nil or empty spec yields rows
// with no columns. The caller holds at least a shared lock on the index
// for the duration.
func Run(ix *index.Index, tables *mediastore.Tables, spec *FetchSpec, cond *Condition) *ResultSet {
	if spec == nil {
		spec = NewFetchSpec()
	}
	spec.intern(tables)
	cond.intern(tables)

	anchors := evalCondition(ix, tables, cond)

	entries := make([]*index.Bucket, 0, len(anchors))
	for b := range anchors {
		entries = append(entries, b)
	}
	sort.Slice(entries, func(i, j int) bool {
		if *entries[i].Key != *entries[j].Key {
			return *entries[i].Key < *entries[j].Key
		}
		return entries[i].Val.Compare(entries[j].Val) < 0
	})

	rs := &ResultSet{spec: spec, entries: entries}
	for _, e := range entries {
		row := make([]*Record, spec.Size())
		for i := range spec.cols {
			row[i] = fetchCell(e, &spec.cols[i])
		}
		rs.rows = append(rs.rows, row)
	}
	return rs
}

type bucketSet map[*index.Bucket]struct{}

func evalCondition(ix *index.Index, tables *mediastore.Tables, c *Condition) bucketSet {
	if c == nil {
		all := make(bucketSet)
		ix.Each(func(b *index.Bucket) { all[b] = struct{}{} })
		return all
	}

	switch c.kind {
	case condFilter:
		return evalFilter(ix, tables, c)

	case condAnd:
		var out bucketSet
		for _, sub := range c.subs {
			s := evalCondition(ix, tables, sub)
			if out == nil {
				out = s
				continue
			}
			for b := range out {
				if _, ok := s[b]; !ok {
					delete(out, b)
				}
			}
		}
		if out == nil {
			out = make(bucketSet)
		}
		return out

	case condOr:
		out := make(bucketSet)
		for _, sub := range c.subs {
			for b := range evalCondition(ix, tables, sub) {
				out[b] = struct{}{}
			}
		}
		return out

	case condNot:
		matched := evalCondition(ix, tables, c.subs[0])
		out := make(bucketSet)
		ix.Each(func(b *index.Bucket) {
			if _, ok := matched[b]; !ok {
				out[b] = struct{}{}
			}
		})
		return out
	}
	return make(bucketSet)
}

// evalFilter finds the buckets under the filter's key whose values
// satisfy the comparison, then resolves them to anchor entries. With the
// parent modifier the matched buckets are the anchors themselves;
// otherwise the anchors are the right sides of the matched buckets,
// re-checked entry-side so source preferences apply per entry.
func evalFilter(ix *index.Index, tables *mediastore.Tables, c *Condition) bucketSet {
	out := make(bucketSet)
	k := ix.Key(c.id)
	if k == nil {
		return out
	}

	var cands []*index.Bucket
	switch c.ftype {
	case FilterEqual:
		if c.caseless() {
			cands = k.Scan(func(v mediastore.Value) bool {
				return tables.CasefoldValue(v) == c.folded
			})
		} else {
			cands = k.Search(func(v mediastore.Value) int { return v.Compare(c.operand) })
		}

	case FilterGreater:
		// Caseless ordering is not monotone over the byte-sorted index,
		// so it cannot ride the binary search.
		if c.caseless() {
			cands = k.Scan(func(v mediastore.Value) bool { return compareFilter(c, v) > 0 })
		} else {
			cands = k.Search(func(v mediastore.Value) int {
				if v.Compare(c.operand) > 0 {
					return 0
				}
				return -1
			})
		}

	case FilterSmaller:
		if c.caseless() {
			cands = k.Scan(func(v mediastore.Value) bool { return compareFilter(c, v) < 0 })
		} else {
			cands = k.Search(func(v mediastore.Value) int {
				if v.Compare(c.operand) < 0 {
					return 0
				}
				return 1
			})
		}

	case FilterMatch, FilterToken:
		cands = k.Scan(func(v mediastore.Value) bool { return stringMatches(c, v) })

	case FilterCustom:
		cands = k.Search(c.cmp)
	}

	if c.flags&CondParent != 0 {
		for _, b := range cands {
			out[b] = struct{}{}
		}
		return out
	}

	for _, b := range cands {
		for _, e := range b.Edges() {
			anchor := ix.Bucket(e.Key, e.Val)
			if anchor == nil {
				continue
			}
			if _, ok := out[anchor]; ok {
				continue
			}
			if entryMatches(tables, c, anchor) {
				out[anchor] = struct{}{}
			}
		}
	}
	return out
}

// entryMatches re-evaluates a filter against one anchor entry. Only the
// edges under the filter's key are considered; with a source preference,
// only edges whose source has the minimum priority count.
func entryMatches(tables *mediastore.Tables, c *Condition, entry *index.Bucket) bool {
	if c.flags&CondParent != 0 {
		return entry.Key == c.id && valueMatches(tables, c, entry.Val)
	}

	best := NoPriority
	if c.pref != nil {
		for _, e := range entry.Edges() {
			if e.Key != c.id {
				continue
			}
			if pri := c.pref.Priority(e.Src); pri < best {
				best = pri
			}
		}
	}

	for _, e := range entry.Edges() {
		if e.Key != c.id {
			continue
		}
		if c.pref != nil && c.pref.Priority(e.Src) != best {
			continue
		}
		if valueMatches(tables, c, e.Val) {
			return true
		}
	}
	return false
}

func valueMatches(tables *mediastore.Tables, c *Condition, v mediastore.Value) bool {
	switch c.ftype {
	case FilterEqual:
		if c.caseless() {
			return tables.CasefoldValue(v) == c.folded
		}
		return v == c.operand
	case FilterGreater:
		return compareFilter(c, v) > 0
	case FilterSmaller:
		return compareFilter(c, v) < 0
	case FilterMatch, FilterToken:
		return stringMatches(c, v)
	case FilterCustom:
		return c.cmp(v) == 0
	}
	return false
}

func compareFilter(c *Condition, v mediastore.Value) int {
	if c.caseless() {
		return v.CompareCaseless(c.operand)
	}
	return v.Compare(c.operand)
}

func stringMatches(c *Condition, v mediastore.Value) bool {
	s, ok := v.Str()
	if !ok {
		return false
	}
	if c.caseless() {
		s = strings.ToUpper(s)
	}

	switch c.ftype {
	case FilterMatch:
		return c.pattern.Match(s)
	case FilterToken:
		want, ok := c.operand.Str()
		if !ok {
			return false
		}
		if c.caseless() {
			want = strings.ToUpper(want)
		}
		for _, tok := range strings.Fields(s) {
			if tok == want {
				return true
			}
		}
	}
	return false
}
