package query

import (
	"github.com/trofi/mediastore/mediastore"
)

// FetchFlag selects what a fetch column yields.
type FetchFlag int

const (
	// FetchData returns full (key, source, value) records instead of the
	// value alone.
	FetchData FetchFlag = 1 << iota
	// FetchParent additionally yields the anchor entry pair itself as
	// the first record of the cell.
	FetchParent
)

type fetchColumn struct {
	key      string
	wildcard bool
	id       *string
	pref     *SourcePref
	flags    FetchFlag
}

// FetchSpec is an ordered list of column requests describing what to
// project from each matching entry.
type FetchSpec struct {
	cols []fetchColumn
}

// NewFetchSpec creates an empty fetch specification.
func NewFetchSpec() *FetchSpec {
	return &FetchSpec{}
}

// Add appends a column request. An empty key fetches every key under the
// entry. pref may be nil, in which case sources rank equal and records
// keep insertion order.
func (f *FetchSpec) Add(key string, pref *SourcePref, flags FetchFlag) {
	f.cols = append(f.cols, fetchColumn{
		key:      key,
		wildcard: key == "",
		pref:     pref,
		flags:    flags,
	})
}

// AddAll appends a wildcard column.
func (f *FetchSpec) AddAll(pref *SourcePref, flags FetchFlag) {
	f.Add("", pref, flags)
}

// Size returns the number of columns.
func (f *FetchSpec) Size() int {
	return len(f.cols)
}

// Key returns the key of column i and whether the column is a wildcard.
func (f *FetchSpec) Key(i int) (string, bool) {
	if i < 0 || i >= len(f.cols) {
		return "", false
	}
	return f.cols[i].key, f.cols[i].wildcard
}

// Pref returns the source preference of column i, or nil.
func (f *FetchSpec) Pref(i int) *SourcePref {
	if i < 0 || i >= len(f.cols) {
		return nil
	}
	return f.cols[i].pref
}

// Flags returns the flags of column i.
func (f *FetchSpec) Flags(i int) FetchFlag {
	if i < 0 || i >= len(f.cols) {
		return 0
	}
	return f.cols[i].flags
}

// intern resolves column keys against the handle's tables so that column
// matching inside evaluation is pointer comparison. Idempotent; called at
// query start.
func (f *FetchSpec) intern(tables *mediastore.Tables) {
	for i := range f.cols {
		if !f.cols[i].wildcard {
			f.cols[i].id = tables.InternString(f.cols[i].key)
		}
	}
}
