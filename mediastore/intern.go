package mediastore

import (
	"strings"
	"sync"
)

// StringTable interns strings to stable per-handle identifiers. The
// identifier is the *string itself: pointer equality implies byte
// equality, and reverse lookup is a dereference.
type StringTable struct {
	mu     sync.RWMutex
	m      map[string]*string
	folded map[*string]*string // interned id -> upper-cased companion
}

// NewStringTable creates an empty string table.
func NewStringTable() *StringTable {
	return &StringTable{
		m:      make(map[string]*string),
		folded: make(map[*string]*string),
	}
}

// Intern returns the stable identifier for s, inserting it on first use.
func (t *StringTable) Intern(s string) *string {
	t.mu.RLock()
	id, ok := t.m[s]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok = t.m[s]; ok {
		return id
	}
	id = &s
	t.m[s] = id
	return id
}

// Lookup returns the identifier for s without inserting.
func (t *StringTable) Lookup(s string) (*string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.m[s]
	return id, ok
}

// Casefolded returns the interned upper-cased companion of an interned
// string, used by case-insensitive filters. Memoized per id.
func (t *StringTable) Casefolded(id *string) *string {
	t.mu.RLock()
	f, ok := t.folded[id]
	t.mu.RUnlock()
	if ok {
		return f
	}

	upper := strings.ToUpper(*id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok = t.folded[id]; ok {
		return f
	}
	f, ok = t.m[upper]
	if !ok {
		f = &upper
		t.m[upper] = f
	}
	t.folded[id] = f
	return f
}

// Each calls f for every interned string. The order is unspecified.
func (t *StringTable) Each(f func(id *string)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.m {
		f(id)
	}
}

// Len returns the number of interned strings.
func (t *StringTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// IntTable interns 32-bit integers the same way StringTable interns
// strings, so index keys and equality checks are uniform across the two
// value kinds.
type IntTable struct {
	mu sync.RWMutex
	m  map[int32]*int32
}

// NewIntTable creates an empty integer table.
func NewIntTable() *IntTable {
	return &IntTable{m: make(map[int32]*int32)}
}

// Intern returns the stable identifier for i, inserting it on first use.
func (t *IntTable) Intern(i int32) *int32 {
	t.mu.RLock()
	id, ok := t.m[i]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok = t.m[i]; ok {
		return id
	}
	id = &i
	t.m[i] = id
	return id
}

// Each calls f for every interned integer. The order is unspecified.
func (t *IntTable) Each(f func(id *int32)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.m {
		f(id)
	}
}

// Len returns the number of interned integers.
func (t *IntTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// Tables bundles the two interning tables owned by a database handle.
// Every atom that reaches the relation index or the query engine has been
// fed through them, so pointer equality is semantic equality everywhere
// inside the engine.
type Tables struct {
	Strings *StringTable
	Ints    *IntTable
}

// NewTables creates a fresh pair of interning tables.
func NewTables() *Tables {
	return &Tables{
		Strings: NewStringTable(),
		Ints:    NewIntTable(),
	}
}

// InternValue returns the interned representative of v.
func (t *Tables) InternValue(v Value) Value {
	if s, ok := v.Str(); ok {
		return Value{s: t.Strings.Intern(s)}
	}
	if i, ok := v.Int(); ok {
		return Value{i: t.Ints.Intern(i)}
	}
	return v
}

// CasefoldValue returns the interned upper-cased companion of a string
// value. Non-string values are returned unchanged.
func (t *Tables) CasefoldValue(v Value) Value {
	if v.s == nil {
		return v
	}
	return Value{s: t.Strings.Casefolded(t.Strings.Intern(*v.s))}
}

// InternString is shorthand for the string table.
func (t *Tables) InternString(s string) *string {
	return t.Strings.Intern(s)
}

// InternInt is shorthand for the integer table.
func (t *Tables) InternInt(i int32) *int32 {
	return t.Ints.Intern(i)
}
