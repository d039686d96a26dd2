package mediastore

import "strings"

// Compare orders two values and returns:
//
//	-1 if v < other
//	 0 if v == other
//	 1 if v > other
//
// Integers compare numerically, strings compare lexicographically on raw
// bytes, and every integer sorts before every string. This is the order
// the per-key sorted indexes are kept in.
func (v Value) Compare(other Value) int {
	if v.i != nil && other.i != nil {
		return compareInt32(*v.i, *other.i)
	}
	if v.s != nil && other.s != nil {
		return strings.Compare(*v.s, *other.s)
	}
	if v.i != nil {
		return -1
	}
	return 1
}

// CompareCaseless is Compare with string payloads compared by their
// upper-cased bytes. Integer ordering is unchanged.
func (v Value) CompareCaseless(other Value) int {
	if v.s != nil && other.s != nil {
		return strings.Compare(strings.ToUpper(*v.s), strings.ToUpper(*other.s))
	}
	return v.Compare(other)
}

// Equal reports value equality. Interned values short-circuit on pointer
// identity.
func (v Value) Equal(other Value) bool {
	if v == other {
		return true
	}
	return v.Compare(other) == 0
}

func compareInt32(a, b int32) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
