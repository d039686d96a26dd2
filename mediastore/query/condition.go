package query

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/trofi/mediastore/mediastore"
)

// FilterType selects the comparison a filter applies.
type FilterType int

const (
	// FilterEqual matches values equal to the operand.
	FilterEqual FilterType = iota
	// FilterGreater matches values ordered after the operand.
	FilterGreater
	// FilterSmaller matches values ordered before the operand.
	FilterSmaller
	// FilterMatch matches string values against the operand as a glob
	// pattern.
	FilterMatch
	// FilterToken matches string values containing the operand as a
	// whitespace-separated token.
	FilterToken
	// FilterCustom matches through a caller-supplied comparator.
	FilterCustom
)

// CondFlag modifies how a filter is evaluated.
type CondFlag int

const (
	// CondParent evaluates the filter against the anchor entry itself
	// rather than its attributes.
	CondParent CondFlag = 1 << iota
	// CondCaseless compares string payloads by their upper-cased bytes.
	CondCaseless
)

type condKind int

const (
	condFilter condKind = iota
	condAnd
	condOr
	condNot
)

// Condition is a tree of filters joined by And/Or/Not combinators.
// Evaluating it against an index yields the set of matching entries.
type Condition struct {
	kind condKind
	subs []*Condition

	ftype   FilterType
	key     string
	id      *string
	operand mediastore.Value
	folded  mediastore.Value
	cmp     func(mediastore.Value) int
	pref    *SourcePref
	flags   CondFlag
	pattern glob.Glob
}

// And combines subconditions; an entry matches when all of them match.
func And(subs ...*Condition) *Condition {
	return &Condition{kind: condAnd, subs: subs}
}

// Or combines subconditions; an entry matches when any of them matches.
func Or(subs ...*Condition) *Condition {
	return &Condition{kind: condOr, subs: subs}
}

// Not inverts a subcondition.
func Not(sub *Condition) *Condition {
	return &Condition{kind: condNot, subs: []*Condition{sub}}
}

// NewFilter creates a filter on key with the given comparison, operand,
// optional source preference and flags. FilterMatch compiles the operand
// string as a glob pattern.
func NewFilter(t FilterType, key string, operand mediastore.Value, pref *SourcePref, flags CondFlag) (*Condition, error) {
	c := &Condition{
		kind:    condFilter,
		ftype:   t,
		key:     key,
		operand: operand,
		pref:    pref,
		flags:   flags,
	}

	if t == FilterMatch {
		s, ok := operand.Str()
		if !ok {
			return nil, fmt.Errorf("match filter on %q: operand is not a string", key)
		}
		if flags&CondCaseless != 0 {
			s = strings.ToUpper(s)
		}
		g, err := glob.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("match filter on %q: %w", key, err)
		}
		c.pattern = g
	}
	return c, nil
}

// NewCustomFilter creates a filter driven by cmp, which must be monotone
// over the value order: negative before the matching range, zero inside
// it, positive after it. Matching values form a contiguous run in the
// per-key sorted index, which is searched directly.
func NewCustomFilter(key string, cmp func(mediastore.Value) int, pref *SourcePref, flags CondFlag) *Condition {
	return &Condition{
		kind:  condFilter,
		ftype: FilterCustom,
		key:   key,
		cmp:   cmp,
		pref:  pref,
		flags: flags,
	}
}

// intern resolves filter keys and operands against the handle's tables.
// Called once at query start; idempotent.
func (c *Condition) intern(tables *mediastore.Tables) {
	if c == nil {
		return
	}
	if c.kind != condFilter {
		for _, sub := range c.subs {
			sub.intern(tables)
		}
		return
	}

	c.id = tables.InternString(c.key)
	if !c.operand.IsZero() {
		c.operand = tables.InternValue(c.operand)
	}
	if c.flags&CondCaseless != 0 && !c.operand.IsZero() {
		c.folded = tables.CasefoldValue(c.operand)
	}
}

// caseless reports whether string comparison ignores case.
func (c *Condition) caseless() bool {
	return c.flags&CondCaseless != 0
}
