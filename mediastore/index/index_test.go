package index

import (
	"testing"

	"github.com/trofi/mediastore/mediastore"
)

type fixture struct {
	tables *mediastore.Tables
	ix     *Index
}

func newFixture() *fixture {
	return &fixture{tables: mediastore.NewTables(), ix: New()}
}

func (f *fixture) key(s string) *string {
	return f.tables.InternString(s)
}

func (f *fixture) str(s string) mediastore.Value {
	return f.tables.InternValue(mediastore.StringValue(s))
}

func (f *fixture) num(i int32) mediastore.Value {
	return f.tables.InternValue(mediastore.IntValue(i))
}

func (f *fixture) add(ka, va, kb, vb, src string) bool {
	return f.ix.Add(f.key(ka), f.str(va), f.key(kb), f.str(vb), f.key(src))
}

func (f *fixture) del(ka, va, kb, vb, src string) bool {
	return f.ix.Del(f.key(ka), f.str(va), f.key(kb), f.str(vb), f.key(src))
}

func TestAddIsSymmetric(t *testing.T) {
	f := newFixture()
	if !f.add("entry", "a", "property", "b", "src") {
		t.Fatal("add failed")
	}

	fwd := f.ix.Bucket(f.key("entry"), f.str("a"))
	if fwd == nil {
		t.Fatal("forward bucket missing")
	}
	if len(fwd.Edges()) != 1 {
		t.Fatalf("forward edges = %d, want 1", len(fwd.Edges()))
	}
	e := fwd.Edges()[0]
	if *e.Key != "property" || e.Val.Compare(f.str("b")) != 0 || *e.Src != "src" {
		t.Errorf("forward edge = (%s, %s, %s)", *e.Key, e.Val, *e.Src)
	}

	rev := f.ix.Bucket(f.key("property"), f.str("b"))
	if rev == nil {
		t.Fatal("inverse bucket missing")
	}
	r := rev.Edges()[0]
	if *r.Key != "entry" || r.Val.Compare(f.str("a")) != 0 || *r.Src != "src" {
		t.Errorf("inverse edge = (%s, %s, %s)", *r.Key, r.Val, *r.Src)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	f := newFixture()
	if !f.add("entry", "a", "property", "b", "src") {
		t.Fatal("first add failed")
	}
	if f.add("entry", "a", "property", "b", "src") {
		t.Error("duplicate add should be a no-op")
	}
	if n := len(f.ix.Bucket(f.key("entry"), f.str("a")).Edges()); n != 1 {
		t.Errorf("edges after duplicate add = %d, want 1", n)
	}
}

func TestDelRequiresExactTuple(t *testing.T) {
	f := newFixture()
	f.add("entry", "a", "property", "b", "src1")

	if f.del("entry", "a", "property", "b", "src2") {
		t.Error("del with a different source should fail")
	}
	if f.del("entry", "a", "property", "c", "src1") {
		t.Error("del with a different value should fail")
	}
	if !f.del("entry", "a", "property", "b", "src1") {
		t.Error("del of the exact tuple should succeed")
	}
	if f.del("entry", "a", "property", "b", "src1") {
		t.Error("second del of the same tuple should fail")
	}
}

func TestDelRemovesBothDirections(t *testing.T) {
	f := newFixture()
	f.add("entry", "a", "property", "b", "src")
	f.del("entry", "a", "property", "b", "src")

	if f.ix.Bucket(f.key("entry"), f.str("a")) != nil {
		t.Error("forward bucket should be gone")
	}
	if f.ix.Bucket(f.key("property"), f.str("b")) != nil {
		t.Error("inverse bucket should be gone")
	}
	if f.ix.Buckets() != 0 {
		t.Errorf("buckets = %d, want 0", f.ix.Buckets())
	}
}

func TestSelfSymmetricPair(t *testing.T) {
	f := newFixture()
	if !f.add("entry", "a", "entry", "a", "src") {
		t.Fatal("self add failed")
	}
	b := f.ix.Bucket(f.key("entry"), f.str("a"))
	if b == nil || len(b.Edges()) != 1 {
		t.Fatal("self pair should store a single edge")
	}
	if !f.del("entry", "a", "entry", "a", "src") {
		t.Error("self del failed")
	}
	if f.ix.Buckets() != 0 {
		t.Error("self del should empty the index")
	}
}

func TestSortedOrder(t *testing.T) {
	f := newFixture()
	// Mixed values under one key, inserted out of order.
	f.ix.Add(f.key("rating"), f.num(10), f.key("entry"), f.str("x"), f.key("s"))
	f.ix.Add(f.key("rating"), f.str("zeta"), f.key("entry"), f.str("y"), f.key("s"))
	f.ix.Add(f.key("rating"), f.num(-5), f.key("entry"), f.str("z"), f.key("s"))
	f.ix.Add(f.key("rating"), f.str("alpha"), f.key("entry"), f.str("w"), f.key("s"))

	k := f.ix.Key(f.key("rating"))
	if k.Len() != 4 {
		t.Fatalf("values under key = %d, want 4", k.Len())
	}

	var got []mediastore.Value
	k.Each(func(b *Bucket) { got = append(got, b.Val) })
	want := []mediastore.Value{f.num(-5), f.num(10), f.str("alpha"), f.str("zeta")}
	for i := range want {
		if got[i].Compare(want[i]) != 0 {
			t.Fatalf("order[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSearchRange(t *testing.T) {
	f := newFixture()
	for i := int32(0); i < 10; i++ {
		f.ix.Add(f.key("year"), f.num(i), f.key("entry"), f.num(i), f.key("s"))
	}
	k := f.ix.Key(f.key("year"))

	pivot := f.num(6)
	greater := k.Search(func(v mediastore.Value) int {
		if v.Compare(pivot) > 0 {
			return 0
		}
		return -1
	})
	if len(greater) != 3 {
		t.Fatalf("values > 6: got %d, want 3", len(greater))
	}

	smaller := k.Search(func(v mediastore.Value) int {
		if v.Compare(pivot) < 0 {
			return 0
		}
		return 1
	})
	if len(smaller) != 6 {
		t.Fatalf("values < 6: got %d, want 6", len(smaller))
	}

	exact := k.Search(func(v mediastore.Value) int { return v.Compare(pivot) })
	if len(exact) != 1 || exact[0].Val.Compare(pivot) != 0 {
		t.Fatalf("exact search found %d buckets", len(exact))
	}

	none := k.Search(func(v mediastore.Value) int { return v.Compare(f.num(100)) })
	if none != nil {
		t.Error("search for an absent value should find nothing")
	}
}

func TestScan(t *testing.T) {
	f := newFixture()
	f.ix.Add(f.key("title"), f.str("Alpha"), f.key("entry"), f.str("1"), f.key("s"))
	f.ix.Add(f.key("title"), f.str("beta"), f.key("entry"), f.str("2"), f.key("s"))
	f.ix.Add(f.key("title"), f.str("Gamma"), f.key("entry"), f.str("3"), f.key("s"))

	k := f.ix.Key(f.key("title"))
	hits := k.Scan(func(v mediastore.Value) bool {
		s, ok := v.Str()
		return ok && len(s) == 5
	})
	if len(hits) != 2 {
		t.Fatalf("scan hits = %d, want 2", len(hits))
	}
}

func TestEachIsDeterministic(t *testing.T) {
	build := func(order []int) []string {
		f := newFixture()
		data := [][5]string{
			{"entry", "b", "property", "y", "s2"},
			{"entry", "a", "property", "x", "s1"},
			{"genre", "jazz", "entry", "a", "s1"},
		}
		for _, i := range order {
			d := data[i]
			f.add(d[0], d[1], d[2], d[3], d[4])
		}
		var walk []string
		f.ix.Each(func(b *Bucket) {
			walk = append(walk, *b.Key+"="+b.Val.String())
		})
		return walk
	}

	first := build([]int{0, 1, 2})
	second := build([]int{2, 1, 0})
	if len(first) != len(second) {
		t.Fatalf("walk lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("walk[%d] differs: %q vs %q", i, first[i], second[i])
		}
	}
}
