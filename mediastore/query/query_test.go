package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trofi/mediastore/mediastore"
	"github.com/trofi/mediastore/mediastore/index"
)

type env struct {
	tables *mediastore.Tables
	ix     *index.Index
}

func newEnv() *env {
	return &env{tables: mediastore.NewTables(), ix: index.New()}
}

func (e *env) add(ka string, va mediastore.Value, kb string, vb mediastore.Value, src string) {
	e.ix.Add(
		e.tables.InternString(ka), e.tables.InternValue(va),
		e.tables.InternString(kb), e.tables.InternValue(vb),
		e.tables.InternString(src),
	)
}

func str(s string) mediastore.Value { return mediastore.StringValue(s) }
func num(i int32) mediastore.Value  { return mediastore.IntValue(i) }

// library builds the little media library most tests below query.
func library() *env {
	e := newEnv()
	e.add("entry", str("a"), "property", str("b"), "src_a")
	e.add("entry", str("a"), "property", str("c"), "src_a")
	e.add("entry", str("b"), "property", str("x"), "src_b")
	e.add("entry", str("b"), "property", str("foobar"), "src_b")
	return e
}

func mustFilter(t *testing.T, ft FilterType, key string, operand mediastore.Value, pref *SourcePref, flags CondFlag) *Condition {
	t.Helper()
	c, err := NewFilter(ft, key, operand, pref, flags)
	require.NoError(t, err)
	return c
}

func cellValues(rec *Record) []string {
	var out []string
	for ; rec != nil; rec = rec.Next() {
		out = append(out, rec.Value().String())
	}
	return out
}

func TestParentEqualFilter(t *testing.T) {
	e := library()

	cond := mustFilter(t, FilterEqual, "entry", str("a"), nil, CondParent)
	spec := NewFetchSpec()
	spec.Add("property", nil, FetchData)

	rs := Run(e.ix, e.tables, spec, cond)
	require.Equal(t, 1, rs.RowCount())
	require.Equal(t, 1, rs.ColCount())

	key, val, ok := rs.Entry(0)
	require.True(t, ok)
	assert.Equal(t, "entry", key)
	assert.Equal(t, "a", val.String())

	assert.Equal(t, []string{"b", "c"}, cellValues(rs.Get(0, 0)))

	rec := rs.Get(0, 0)
	assert.Equal(t, "property", rec.Key())
	assert.Equal(t, "src_a", rec.Source())
}

func TestAttributeEqualFilter(t *testing.T) {
	e := library()

	// Entries that have property = "foobar": only entry b.
	cond := mustFilter(t, FilterEqual, "property", str("foobar"), nil, 0)
	rs := Run(e.ix, e.tables, NewFetchSpec(), cond)
	require.Equal(t, 1, rs.RowCount())

	key, val, _ := rs.Entry(0)
	assert.Equal(t, "entry", key)
	assert.Equal(t, "b", val.String())
}

func TestRangeFilters(t *testing.T) {
	e := newEnv()
	for i := int32(1); i <= 5; i++ {
		e.add("entry", str(string(rune('a'+i-1))), "rating", num(i), "s")
	}

	greater := mustFilter(t, FilterGreater, "rating", num(3), nil, 0)
	rs := Run(e.ix, e.tables, NewFetchSpec(), greater)
	assert.Equal(t, 2, rs.RowCount())

	smaller := mustFilter(t, FilterSmaller, "rating", num(3), nil, 0)
	rs = Run(e.ix, e.tables, NewFetchSpec(), smaller)
	assert.Equal(t, 2, rs.RowCount())
}

func TestMatchFilter(t *testing.T) {
	e := library()

	cond := mustFilter(t, FilterMatch, "property", str("foo*"), nil, 0)
	rs := Run(e.ix, e.tables, NewFetchSpec(), cond)
	require.Equal(t, 1, rs.RowCount())
	_, val, _ := rs.Entry(0)
	assert.Equal(t, "b", val.String())
}

func TestTokenFilter(t *testing.T) {
	e := newEnv()
	e.add("entry", str("1"), "title", str("dark side of the moon"), "s")
	e.add("entry", str("2"), "title", str("moonlight sonata"), "s")

	cond := mustFilter(t, FilterToken, "title", str("moon"), nil, 0)
	rs := Run(e.ix, e.tables, NewFetchSpec(), cond)
	require.Equal(t, 1, rs.RowCount())
	_, val, _ := rs.Entry(0)
	assert.Equal(t, "1", val.String())
}

func TestCaselessEqualFilter(t *testing.T) {
	e := newEnv()
	e.add("entry", str("1"), "artist", str("Pink Floyd"), "s")

	cond := mustFilter(t, FilterEqual, "artist", str("pink floyd"), nil, CondCaseless)
	rs := Run(e.ix, e.tables, NewFetchSpec(), cond)
	assert.Equal(t, 1, rs.RowCount())

	sensitive := mustFilter(t, FilterEqual, "artist", str("pink floyd"), nil, 0)
	rs = Run(e.ix, e.tables, NewFetchSpec(), sensitive)
	assert.Equal(t, 0, rs.RowCount())
}

func TestCustomFilter(t *testing.T) {
	e := newEnv()
	for i := int32(0); i < 10; i++ {
		e.add("entry", str(string(rune('a'+i))), "year", num(1990+i), "s")
	}

	// Monotone window 1993..1995.
	lo, hi := num(1993), num(1995)
	cond := NewCustomFilter("year", func(v mediastore.Value) int {
		if v.Compare(lo) < 0 {
			return -1
		}
		if v.Compare(hi) > 0 {
			return 1
		}
		return 0
	}, nil, 0)

	rs := Run(e.ix, e.tables, NewFetchSpec(), cond)
	assert.Equal(t, 3, rs.RowCount())
}

func TestCombinators(t *testing.T) {
	e := library()

	hasB := mustFilter(t, FilterEqual, "property", str("b"), nil, 0)
	hasX := mustFilter(t, FilterEqual, "property", str("x"), nil, 0)

	rs := Run(e.ix, e.tables, NewFetchSpec(), Or(hasB, hasX))
	assert.Equal(t, 2, rs.RowCount())

	rs = Run(e.ix, e.tables, NewFetchSpec(), And(hasB, hasX))
	assert.Equal(t, 0, rs.RowCount())

	hasC := mustFilter(t, FilterEqual, "property", str("c"), nil, 0)
	rs = Run(e.ix, e.tables, NewFetchSpec(), And(hasB, hasC))
	require.Equal(t, 1, rs.RowCount())
	_, val, _ := rs.Entry(0)
	assert.Equal(t, "a", val.String())

	// Everything that is an entry but does not have property b.
	isEntry := mustFilter(t, FilterMatch, "entry", str("*"), nil, CondParent)
	rs = Run(e.ix, e.tables, NewFetchSpec(), And(isEntry, Not(hasB)))
	require.Equal(t, 1, rs.RowCount())
	_, val, _ = rs.Entry(0)
	assert.Equal(t, "b", val.String())
}

func TestSourcePrefPicksBestSource(t *testing.T) {
	e := newEnv()
	e.add("entry", str("a"), "property", str("a"), "1")
	e.add("entry", str("a"), "property", str("b"), "2")
	e.add("entry", str("b"), "property", str("a"), "2")
	e.add("entry", str("b"), "property", str("b"), "1")

	oneTwo, err := NewSourcePref([]string{"1", "2"})
	require.NoError(t, err)
	twoOne, err := NewSourcePref([]string{"2", "1"})
	require.NoError(t, err)

	spec := NewFetchSpec()
	spec.Add("property", oneTwo, FetchData)
	cond := mustFilter(t, FilterEqual, "property", str("a"), oneTwo, 0)

	rs := Run(e.ix, e.tables, spec, cond)
	require.Equal(t, 1, rs.RowCount())
	rec := rs.Get(0, 0)
	require.NotNil(t, rec)
	assert.Equal(t, "1", rec.Source())
	assert.Equal(t, "a", rec.Value().String())

	spec = NewFetchSpec()
	spec.Add("property", twoOne, FetchData)
	cond = mustFilter(t, FilterEqual, "property", str("a"), twoOne, 0)

	rs = Run(e.ix, e.tables, spec, cond)
	require.Equal(t, 1, rs.RowCount())
	rec = rs.Get(0, 0)
	require.NotNil(t, rec)
	assert.Equal(t, "2", rec.Source())
	assert.Equal(t, "a", rec.Value().String())
}

func TestWildcardColumn(t *testing.T) {
	e := newEnv()
	e.add("entry", str("1"), "artist", str("them"), "s")
	e.add("entry", str("1"), "title", str("gloria"), "s")

	cond := mustFilter(t, FilterEqual, "entry", str("1"), nil, CondParent)
	spec := NewFetchSpec()
	spec.AddAll(nil, FetchData)

	rs := Run(e.ix, e.tables, spec, cond)
	require.Equal(t, 1, rs.RowCount())

	var keys []string
	for rec := rs.Get(0, 0); rec != nil; rec = rec.Next() {
		keys = append(keys, rec.Key())
	}
	// Sorted by key: artist before title.
	assert.Equal(t, []string{"artist", "title"}, keys)
}

func TestFetchWithoutDataFlag(t *testing.T) {
	e := library()

	cond := mustFilter(t, FilterEqual, "entry", str("a"), nil, CondParent)
	spec := NewFetchSpec()
	spec.Add("property", nil, 0)

	rs := Run(e.ix, e.tables, spec, cond)
	rec := rs.Get(0, 0)
	require.NotNil(t, rec)
	assert.Equal(t, "", rec.Key())
	assert.Equal(t, "", rec.Source())
	assert.Equal(t, "b", rec.Value().String())
}

func TestFetchParentFlag(t *testing.T) {
	e := library()

	cond := mustFilter(t, FilterEqual, "entry", str("b"), nil, CondParent)
	spec := NewFetchSpec()
	spec.Add("property", nil, FetchData|FetchParent)

	rs := Run(e.ix, e.tables, spec, cond)
	rec := rs.Get(0, 0)
	require.NotNil(t, rec)
	assert.Equal(t, "entry", rec.Key())
	assert.Equal(t, "b", rec.Value().String())

	// The attributes follow the anchor pair.
	vals := cellValues(rec.Next())
	assert.ElementsMatch(t, []string{"foobar", "x"}, vals)
}

func TestEmptyCellAndBounds(t *testing.T) {
	e := library()

	cond := mustFilter(t, FilterEqual, "entry", str("a"), nil, CondParent)
	spec := NewFetchSpec()
	spec.Add("absent-key", nil, FetchData)

	rs := Run(e.ix, e.tables, spec, cond)
	require.Equal(t, 1, rs.RowCount())
	assert.Nil(t, rs.Get(0, 0))
	assert.Nil(t, rs.Get(5, 0))
	assert.Nil(t, rs.Get(0, 5))
}

func TestNilConditionMatchesEverything(t *testing.T) {
	e := library()
	rs := Run(e.ix, e.tables, NewFetchSpec(), nil)
	// Every bucket on both sides: entries a and b, properties b, c, x,
	// foobar.
	assert.Equal(t, 6, rs.RowCount())
}
