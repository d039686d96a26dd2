// Package query implements the read side of the engine: source
// preferences, fetch specifications, condition trees and the result sets
// produced by evaluating them against a relation index.
package query

import (
	"fmt"
	"math"
	"sync"

	"github.com/gobwas/glob"
)

// NoPriority is the priority of a source matching none of the patterns.
// It sorts after every real priority.
const NoPriority = math.MaxInt32

// SourcePref ranks sources by an ordered list of glob patterns: the
// priority of a source is the position of the first pattern matching its
// string form, 0 being the highest. Priorities are memoized per interned
// source id for the lifetime of the object.
type SourcePref struct {
	mu       sync.Mutex
	patterns []string
	globs    []glob.Glob
	cache    map[*string]int
}

// NewSourcePref compiles the patterns into a preference. Pattern syntax
// is the usual glob one: '*' matches any run, '?' a single character.
func NewSourcePref(patterns []string) (*SourcePref, error) {
	sp := &SourcePref{
		patterns: patterns,
		globs:    make([]glob.Glob, len(patterns)),
		cache:    make(map[*string]int),
	}
	for i, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("source pattern %q: %w", p, err)
		}
		sp.globs[i] = g
	}
	return sp, nil
}

// Priority returns the priority of an interned source id.
func (sp *SourcePref) Priority(src *string) int {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if pri, ok := sp.cache[src]; ok {
		return pri
	}

	pri := NoPriority
	for i, g := range sp.globs {
		if g.Match(*src) {
			pri = i
			break
		}
	}
	sp.cache[src] = pri
	return pri
}

// Patterns returns the patterns in priority order.
func (sp *SourcePref) Patterns() []string {
	return sp.patterns
}

// priorityOf treats a nil preference as "everything ranks equal".
func priorityOf(sp *SourcePref, src *string) int {
	if sp == nil {
		return 0
	}
	return sp.Priority(src)
}
