package mediastore

import "errors"

// Error kinds surfaced by the public entry points. Callers test them with
// errors.Is; lower layers wrap them with context.
var (
	// ErrNoEnt is returned when opening with Exists and no database is
	// present at the path.
	ErrNoEnt = errors.New("database does not exist")

	// ErrExists is returned when opening with New and a database is
	// already present at the path.
	ErrExists = errors.New("database already exists")

	// ErrLogOpen is returned when the log file cannot be opened or
	// created.
	ErrLogOpen = errors.New("could not open log file")

	// ErrOpen is returned when an operation is attempted on a closed
	// handle or a finished transaction.
	ErrOpen = errors.New("handle is not open")

	// ErrInUse is returned when the advisory byte locks on the log file
	// cannot be taken.
	ErrInUse = errors.New("database is in use")

	// ErrLogFull is returned by commit when the log cannot take the
	// transaction without overwriting un-checkpointed records. The
	// transaction is rolled back; callers retry after a checkpoint.
	ErrLogFull = errors.New("log is full")

	// ErrCorruptLog marks a snapshot record that fails to decode while
	// the snapshot is loaded. Log replay does not return it; replay halts
	// at the last good transaction instead.
	ErrCorruptLog = errors.New("corrupt log record")

	// ErrIO wraps file-level failures. A commit that fails with ErrIO
	// leaves the handle read-only.
	ErrIO = errors.New("i/o error")

	// ErrReadOnly is returned by commits after a log write failure has
	// degraded the handle.
	ErrReadOnly = errors.New("handle is read-only")

	// ErrNotFound is returned when deleting a relationship that is not
	// present with a matching source.
	ErrNotFound = errors.New("no such relationship")
)
