package wal

import (
	"encoding/binary"

	"github.com/trofi/mediastore/mediastore"
)

// Replay reads the log forward from the last checkpoint and hands every
// complete BEGIN...END bracket to apply as an oplist. Atoms are fed
// through the handle's tables, so replayed strings are the same interned
// representatives the index will hold. Reading stops at the first header
// whose stored number does not match its position, whose type is
// unknown, or whose payload fails to decode; everything from the last
// good END on is treated as uncommitted and overwritable.
func (l *Log) Replay(tables *mediastore.Tables, apply func(*mediastore.Oplist)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// The checkpoint must name a record we can still read; if the ring
	// has moved past it the tail is gone and the snapshot stands alone.
	pos := l.lastLogpoint % Capacity
	hdr, err := l.readHeader(pos)
	if err != nil || hdr.num != l.lastLogpoint {
		return nil
	}

	lastValid := l.lastLogpoint
	l.nextLogpoint = l.lastLogpoint + headerSize
	pos = l.nextLogpoint % Capacity
	round := l.nextLogpoint / Capacity

	var (
		list      *mediastore.Oplist
		replayed  int
		cpVal     uint64
		syncVal   uint64
		haveCp    bool
		haveSync  bool
		truncated bool
	)

	for !truncated {
		hdr, err := l.readHeader(pos)
		if err != nil || hdr.num != pos+round*Capacity {
			break
		}
		l.lastLogpoint = l.nextLogpoint
		cursor := pos + headerSize

		switch hdr.typ {
		case typeWrap:
			round++
			cursor = 0

		case typeAdd, typeDel:
			if list == nil {
				truncated = true
				break
			}
			next, ok := l.readMod(tables, list, hdr.typ, cursor)
			if !ok {
				truncated = true
				break
			}
			cursor = next

		case typeCheckpoint:
			buf := make([]byte, 8)
			if _, err := l.f.ReadAt(buf, int64(cursor)); err != nil {
				truncated = true
				break
			}
			cpVal = binary.LittleEndian.Uint64(buf)
			haveCp = true
			cursor += 8

		case typeWriting:
			syncVal = l.lastLogpoint
			haveSync = true

		case typeBegin:
			list = mediastore.NewOplist()
			haveCp = false
			haveSync = false

		case typeEnd:
			if list == nil {
				break
			}
			apply(list)
			replayed++
			list = nil
			if haveCp {
				l.lastSynced = cpVal
				l.lastCheckpoint = cpVal
			} else if haveSync {
				l.lastSynced = syncVal
			}
			lastValid = l.lastLogpoint

		case typeInit:
			// Fresh-file stamp, nothing to do.

		default:
			truncated = true
		}

		pos = cursor
		l.nextLogpoint = pos + round*Capacity
	}

	l.lastLogpoint = lastValid
	l.nextLogpoint = lastValid + headerSize

	if replayed > 0 {
		l.logger.WithField("transactions", replayed).Debug("log replay complete")
	}
	return nil
}

// readMod decodes an add or del record at cursor into the oplist and
// returns the offset past it. ok is false when the lengths are
// implausible or the read fails.
func (l *Log) readMod(tables *mediastore.Tables, list *mediastore.Oplist, t recordType, cursor uint64) (uint64, bool) {
	buf := make([]byte, modHeaderSize)
	if _, err := l.f.ReadAt(buf, int64(cursor)); err != nil {
		return 0, false
	}
	cursor += modHeaderSize

	var lens [5]int32
	for i := range lens {
		lens[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	kaLen, vaLen, kbLen, vbLen, sLen := lens[0], lens[1], lens[2], lens[3], lens[4]

	ka, cursor, ok := l.readStr(tables, cursor, kaLen)
	if !ok {
		return 0, false
	}
	va, cursor, ok := l.readVal(tables, cursor, vaLen)
	if !ok {
		return 0, false
	}
	kb, cursor, ok := l.readStr(tables, cursor, kbLen)
	if !ok {
		return 0, false
	}
	vb, cursor, ok := l.readVal(tables, cursor, vbLen)
	if !ok {
		return 0, false
	}
	src, cursor, ok := l.readStr(tables, cursor, sLen)
	if !ok {
		return 0, false
	}

	if t == typeAdd {
		list.Add(ka, va, kb, vb, src)
	} else {
		list.Del(ka, va, kb, vb, src)
	}
	return cursor, true
}

func (l *Log) readStr(tables *mediastore.Tables, cursor uint64, length int32) (*string, uint64, bool) {
	if length < 0 || int64(length) > Capacity {
		return nil, 0, false
	}
	buf := make([]byte, length)
	if _, err := l.f.ReadAt(buf, int64(cursor)); err != nil {
		return nil, 0, false
	}
	return tables.InternString(string(buf)), cursor + uint64(length), true
}

func (l *Log) readVal(tables *mediastore.Tables, cursor uint64, length int32) (mediastore.Value, uint64, bool) {
	if length == -1 {
		buf := make([]byte, 4)
		if _, err := l.f.ReadAt(buf, int64(cursor)); err != nil {
			return mediastore.Value{}, 0, false
		}
		i := int32(binary.LittleEndian.Uint32(buf))
		return tables.InternValue(mediastore.IntValue(i)), cursor + 4, true
	}
	s, next, ok := l.readStr(tables, cursor, length)
	if !ok {
		return mediastore.Value{}, 0, false
	}
	return tables.InternValue(mediastore.StringValue(*s)), next, true
}
