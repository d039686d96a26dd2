package mediastore

import "testing"

func TestOplist(t *testing.T) {
	tables := NewTables()
	ka := tables.InternString("entry")
	kb := tables.InternString("property")
	src := tables.InternString("test")
	va := tables.InternValue(StringValue("a"))
	vb := tables.InternValue(IntValue(1))

	l := NewOplist()
	if l.Len() != 0 || l.HasWriting() {
		t.Error("fresh oplist should be empty")
	}

	l.Add(ka, va, kb, vb, src)
	l.Del(ka, va, kb, vb, src)
	l.Writing()

	ops := l.Ops()
	if len(ops) != 3 {
		t.Fatalf("len = %d, want 3", len(ops))
	}
	if ops[0].Type != OpAdd || ops[1].Type != OpDel || ops[2].Type != OpWriting {
		t.Errorf("op order = %v %v %v", ops[0].Type, ops[1].Type, ops[2].Type)
	}
	if ops[0].KeyA != ka || ops[0].ValB != vb || ops[0].Src != src {
		t.Error("add op lost its atoms")
	}
	if !l.HasWriting() {
		t.Error("HasWriting should see the sentinel")
	}
}
