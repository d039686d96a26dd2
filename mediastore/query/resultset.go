package query

import (
	"sort"

	"github.com/trofi/mediastore/mediastore"
	"github.com/trofi/mediastore/mediastore/index"
)

// Record is one fetched (key, source, value) triple. Records are
// read-only and borrow their atoms from the handle's interning tables;
// they stay valid for the lifetime of the handle.
type Record struct {
	key  *string
	src  *string
	val  mediastore.Value
	next *Record
}

// Key returns the key, or "" when the column was fetched without
// FetchData.
func (r *Record) Key() string {
	if r.key == nil {
		return ""
	}
	return *r.key
}

// Source returns the asserting source, or "" when not fetched.
func (r *Record) Source() string {
	if r.src == nil {
		return ""
	}
	return *r.src
}

// Value returns the fetched value.
func (r *Record) Value() mediastore.Value {
	return r.val
}

// Next returns the next record of the cell in the order fetchCell built
// it, or nil at the end.
func (r *Record) Next() *Record {
	return r.next
}

// ResultSet is the dense grid produced by a query: one row per matching
// entry, one column per fetch request. A cell is nil when the entry has
// nothing to fetch for that column.
type ResultSet struct {
	spec    *FetchSpec
	entries []*index.Bucket
	rows    [][]*Record
}

// RowCount returns the number of matched entries.
func (rs *ResultSet) RowCount() int {
	return len(rs.rows)
}

// ColCount returns the number of fetch columns.
func (rs *ResultSet) ColCount() int {
	return rs.spec.Size()
}

// Get returns the first record of a cell, or nil when the cell is empty
// or out of bounds.
func (rs *ResultSet) Get(row, col int) *Record {
	if row < 0 || row >= len(rs.rows) || col < 0 || col >= len(rs.rows[row]) {
		return nil
	}
	return rs.rows[row][col]
}

// Entry returns the anchor (key, value) pair of a row.
func (rs *ResultSet) Entry(row int) (string, mediastore.Value, bool) {
	if row < 0 || row >= len(rs.entries) {
		return "", mediastore.Value{}, false
	}
	e := rs.entries[row]
	return *e.Key, e.Val, true
}

// fetchCell materializes one cell: the entry's edges under the column's
// key (or all of them for a wildcard), ordered by source priority with
// ties keeping first-encountered order. A wildcard cell is ordered by key
// first and by source priority within each key. With FetchParent the
// anchor pair comes before all of them.
func fetchCell(entry *index.Bucket, col *fetchColumn) *Record {
	type pick struct {
		edge index.Edge
		pri  int
	}

	var picks []pick
	for _, e := range entry.Edges() {
		if !col.wildcard && e.Key != col.id {
			continue
		}
		picks = append(picks, pick{edge: e, pri: priorityOf(col.pref, e.Src)})
	}

	if col.wildcard {
		sort.SliceStable(picks, func(i, j int) bool {
			if *picks[i].edge.Key != *picks[j].edge.Key {
				return *picks[i].edge.Key < *picks[j].edge.Key
			}
			return picks[i].pri < picks[j].pri
		})
	} else {
		sort.SliceStable(picks, func(i, j int) bool { return picks[i].pri < picks[j].pri })
	}

	var head, tail *Record
	link := func(r *Record) {
		if head == nil {
			head = r
		} else {
			tail.next = r
		}
		tail = r
	}

	if col.flags&FetchParent != 0 {
		link(&Record{key: entry.Key, val: entry.Val})
	}
	for _, p := range picks {
		r := &Record{val: p.edge.Val}
		if col.flags&FetchData != 0 {
			r.key = p.edge.Key
			r.src = p.edge.Src
		}
		link(r)
	}
	return head
}
