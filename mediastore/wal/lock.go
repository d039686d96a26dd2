package wal

import (
	"fmt"
	"io"

	"github.com/trofi/mediastore/mediastore"
	"golang.org/x/sys/unix"
)

// Byte offsets inside the log file used as advisory lock tokens: byte 0
// is held shared by every live reader of the log, byte 1 exclusively by
// the writer of the database.
const (
	lockByteLog = 0
	lockByteDB  = 1
)

// LockLog takes the shared log-active lock. Blocks until granted.
func (l *Log) LockLog() error {
	return l.lockByte(lockByteLog, unix.F_RDLCK)
}

// UnlockLog releases the log-active lock.
func (l *Log) UnlockLog() error {
	return l.lockByte(lockByteLog, unix.F_UNLCK)
}

// LockDB takes the exclusive database-modify lock. Blocks until granted.
func (l *Log) LockDB() error {
	return l.lockByte(lockByteDB, unix.F_WRLCK)
}

// UnlockDB releases the database-modify lock.
func (l *Log) UnlockDB() error {
	return l.lockByte(lockByteDB, unix.F_UNLCK)
}

// lockByte applies an advisory fcntl lock to a single byte, retrying on
// EINTR; F_SETLKW waits are uninterruptible from the caller's point of
// view.
func (l *Log) lockByte(offset int64, typ int16) error {
	fl := unix.Flock_t{
		Type:   typ,
		Whence: io.SeekStart,
		Start:  offset,
		Len:    1,
	}
	for {
		err := unix.FcntlFlock(l.f.Fd(), unix.F_SETLKW, &fl)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return fmt.Errorf("%w: lock byte %d: %v", mediastore.ErrInUse, offset, err)
	}
}
