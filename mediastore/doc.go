// Package mediastore holds the shared core of the engine: the tagged
// Value atom, the per-handle interning tables, value ordering, the error
// kinds surfaced at the public boundary, and the Oplist that carries a
// transaction's operations through commit, logging and recovery.
//
// The subpackages build on it: index keeps the symmetric relation graph
// in memory, query evaluates conditions and fetch specifications over
// it, wal makes committed transactions durable in a fixed-size ring
// log, and store ties everything into a Database handle.
package mediastore
