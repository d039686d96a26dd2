package mediastore

import (
	"fmt"
	"strconv"
)

// Value is the tagged atom stored on either side of a relationship: a
// 32-bit signed integer or a string. Interned values carry pointers into
// the handle's tables, so two interned values are equal exactly when their
// struct fields are equal.
type Value struct {
	s *string
	i *int32
}

// IntValue creates an integer value. The result is not interned; it is fed
// through the handle's tables when it enters the index or a query.
func IntValue(i int32) Value {
	return Value{i: &i}
}

// StringValue creates a string value. Not interned, see IntValue.
func StringValue(s string) Value {
	return Value{s: &s}
}

// IsString reports whether v holds a string.
func (v Value) IsString() bool {
	return v.s != nil
}

// IsInt reports whether v holds an integer.
func (v Value) IsInt() bool {
	return v.i != nil
}

// IsZero reports whether v is the zero Value (no payload at all).
func (v Value) IsZero() bool {
	return v.s == nil && v.i == nil
}

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	if v.s == nil {
		return "", false
	}
	return *v.s, true
}

// Int returns the integer payload.
func (v Value) Int() (int32, bool) {
	if v.i == nil {
		return 0, false
	}
	return *v.i, true
}

// String returns a display form of the value.
func (v Value) String() string {
	switch {
	case v.s != nil:
		return *v.s
	case v.i != nil:
		return strconv.FormatInt(int64(*v.i), 10)
	}
	return "<nil>"
}

// GoString makes test failures readable.
func (v Value) GoString() string {
	if v.s != nil {
		return fmt.Sprintf("String(%q)", *v.s)
	}
	if v.i != nil {
		return fmt.Sprintf("Int(%d)", *v.i)
	}
	return "Value{}"
}
