// Package wal implements the write-ahead log: a fixed-capacity file
// operated as a ring buffer. Monotonic 64-bit log numbers denote absolute
// byte positions; the file offset of a record is its number modulo the
// capacity. Committed transactions are bracketed BEGIN ... END; recovery
// replays complete brackets from the last checkpoint and treats partial
// ones as uncommitted.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/trofi/mediastore/mediastore"
)

// Capacity is the fixed size of the log file.
const Capacity = 2 * 1024 * 1024

const (
	headerSize    = 12 // type u32 + num u64
	modHeaderSize = 20 // five i32 lengths
)

type recordType uint32

const (
	typeBegin      recordType = 0x1
	typeEnd        recordType = 0x2
	typeWriting    recordType = 0x3
	typeCheckpoint recordType = 0x4
	typeWrap       recordType = 0x123123
	typeAdd        recordType = 0xaddadd
	typeDel        recordType = 0xde1e7e
	typeInit       recordType = 0x87654321
)

type header struct {
	typ recordType
	num uint64
}

// Log is the write-ahead log of one database handle. The mutex covers
// the position counters and all file access.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	noSync bool
	logger *logrus.Entry

	lastCheckpoint uint64
	lastSynced     uint64
	lastLogpoint   uint64
	nextLogpoint   uint64
}

// Open opens or creates the log file at path. A fresh file is sized to
// Capacity and stamped with an INIT record. The second return reports
// whether the file was created.
func Open(path string, noSync bool, logger *logrus.Entry) (*Log, bool, error) {
	created := false
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		created = true
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", mediastore.ErrLogOpen, err)
	}

	l := &Log{f: f, noSync: noSync, logger: logger}
	if created {
		if err := f.Truncate(Capacity); err != nil {
			f.Close()
			return nil, false, fmt.Errorf("%w: %v", mediastore.ErrLogOpen, err)
		}
		if err := l.writeSimple(typeInit); err != nil {
			f.Close()
			return nil, false, err
		}
		if err := l.flush(); err != nil {
			f.Close()
			return nil, false, err
		}
	}
	return l, created, nil
}

// Init positions the counters at a checkpoint loaded from the snapshot.
// Called once before Replay.
func (l *Log) Init(lastCheckpoint uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastCheckpoint = lastCheckpoint
	l.lastSynced = lastCheckpoint
	l.lastLogpoint = lastCheckpoint
	l.nextLogpoint = lastCheckpoint + headerSize
}

// LastCheckpoint returns the log number the durable snapshot covers.
func (l *Log) LastCheckpoint() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCheckpoint
}

// LastSynced returns the snapshot boundary candidate.
func (l *Log) LastSynced() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSynced
}

// Close closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("%w: %v", mediastore.ErrIO, err)
	}
	return nil
}

// BeginSync fixes the snapshot boundary at the last written record. The
// snapshot worker calls this while it holds the index read lock, so every
// transaction up to the boundary is in the capture and none after it.
func (l *Log) BeginSync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSynced = l.lastLogpoint
}

// estimate returns the worst-case byte count of the oplist's bracket,
// the size of its largest record, and whether it carries the snapshot
// sentinel.
func estimate(ops *mediastore.Oplist) (total, largest uint64, writing bool) {
	for _, op := range ops.Ops() {
		size := uint64(headerSize)
		switch op.Type {
		case mediastore.OpAdd, mediastore.OpDel:
			size += modHeaderSize
			size += uint64(len(*op.KeyA) + len(*op.KeyB) + len(*op.Src))
			size += payloadLen(op.ValA) + payloadLen(op.ValB)
		case mediastore.OpWriting:
			writing = true
		}
		if size > largest {
			largest = size
		}
		total += size
	}
	if total == 0 {
		return 0, 0, writing
	}
	// Room for BEGIN, END, a possible WRAP header, and the slack a
	// wrap-around can waste at the tail.
	total += 3*headerSize + largest
	return total, largest, writing
}

// payloadLen returns the logged size of a value: string length, or 4 for
// the int32 payload.
func payloadLen(v mediastore.Value) uint64 {
	if s, ok := v.Str(); ok {
		return uint64(len(s))
	}
	return 4
}

// valLen returns the mod_header length field: string length, or -1
// flagging an int payload.
func valLen(v mediastore.Value) int32 {
	if s, ok := v.Str(); ok {
		return int32(len(s))
	}
	return -1
}

// WriteTransaction appends the oplist as one BEGIN...END bracket, flushes
// and syncs. It fails with ErrLogFull, leaving the log untouched, when
// the bracket cannot fit without overwriting un-checkpointed records.
// The first return reports whether log use crossed half the capacity and
// a snapshot should be triggered.
func (l *Log) WriteTransaction(ops *mediastore.Oplist) (bool, error) {
	total, _, writing := estimate(ops)
	if total == 0 {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if writing {
		// The sentinel is carried by the first transaction racing a
		// snapshot; the boundary sits just before this bracket.
		l.lastSynced = l.lastLogpoint
	}

	if l.nextLogpoint+total > l.lastCheckpoint+Capacity {
		return false, mediastore.ErrLogFull
	}

	if err := l.writeSimple(typeBegin); err != nil {
		return false, err
	}
	for _, op := range ops.Ops() {
		var err error
		switch op.Type {
		case mediastore.OpAdd:
			err = l.writeMod(typeAdd, op)
		case mediastore.OpDel:
			err = l.writeMod(typeDel, op)
		case mediastore.OpWriting:
			err = l.writeSimple(typeWriting)
		}
		if err != nil {
			return false, err
		}
	}
	if err := l.writeSimple(typeEnd); err != nil {
		return false, err
	}
	if err := l.flush(); err != nil {
		return false, err
	}

	return l.nextLogpoint-l.lastCheckpoint > Capacity/2, nil
}

// WriteCheckpoint appends a BEGIN / CHECKPOINT(last_synced) / END bracket
// and advances last_checkpoint, releasing the ring up to it.
func (l *Log) WriteCheckpoint() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writeSimple(typeBegin); err != nil {
		return err
	}
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, l.lastSynced)
	if err := l.writeRecord(typeCheckpoint, payload); err != nil {
		return err
	}
	l.lastCheckpoint = l.lastSynced
	if err := l.writeSimple(typeEnd); err != nil {
		return err
	}
	if err := l.flush(); err != nil {
		return err
	}
	l.logger.WithField("checkpoint", l.lastCheckpoint).Debug("log checkpoint written")
	return nil
}

// writeSimple appends a payload-less record.
func (l *Log) writeSimple(t recordType) error {
	return l.writeRecord(t, nil)
}

// writeRecord appends a header and its payload, wrapping first when the
// record would run into the tail of the ring.
func (l *Log) writeRecord(t recordType, payload []byte) error {
	pos := l.nextLogpoint % Capacity
	round := l.nextLogpoint / Capacity

	if pos+uint64(len(payload)) > Capacity-2*headerSize {
		if err := l.writeHeader(pos, header{typ: typeWrap, num: pos + round*Capacity}); err != nil {
			return err
		}
		pos = 0
		round++
	}

	num := pos + round*Capacity
	if err := l.writeHeader(pos, header{typ: t, num: num}); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := l.f.WriteAt(payload, int64(pos)+headerSize); err != nil {
			return fmt.Errorf("%w: %v", mediastore.ErrIO, err)
		}
	}

	// lastLogpoint names the record itself, never a WRAP header, so a
	// checkpoint boundary is always a header recovery can step over.
	l.lastLogpoint = num
	l.nextLogpoint = pos + headerSize + uint64(len(payload)) + round*Capacity
	return nil
}

// writeMod appends an add or del record.
func (l *Log) writeMod(t recordType, op mediastore.Op) error {
	vaLen := valLen(op.ValA)
	vbLen := valLen(op.ValB)

	buf := make([]byte, 0, modHeaderSize+len(*op.KeyA)+len(*op.KeyB)+len(*op.Src)+8)
	for _, n := range []int32{int32(len(*op.KeyA)), vaLen, int32(len(*op.KeyB)), vbLen, int32(len(*op.Src))} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	}
	buf = append(buf, *op.KeyA...)
	buf = appendValue(buf, op.ValA)
	buf = append(buf, *op.KeyB...)
	buf = appendValue(buf, op.ValB)
	buf = append(buf, *op.Src...)

	return l.writeRecord(t, buf)
}

func appendValue(buf []byte, v mediastore.Value) []byte {
	if s, ok := v.Str(); ok {
		return append(buf, s...)
	}
	i, _ := v.Int()
	return binary.LittleEndian.AppendUint32(buf, uint32(i))
}

func (l *Log) writeHeader(pos uint64, h header) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.typ))
	binary.LittleEndian.PutUint64(buf[4:12], h.num)
	if _, err := l.f.WriteAt(buf, int64(pos)); err != nil {
		return fmt.Errorf("%w: %v", mediastore.ErrIO, err)
	}
	return nil
}

func (l *Log) readHeader(pos uint64) (header, error) {
	buf := make([]byte, headerSize)
	if _, err := l.f.ReadAt(buf, int64(pos)); err != nil {
		return header{}, err
	}
	return header{
		typ: recordType(binary.LittleEndian.Uint32(buf[0:4])),
		num: binary.LittleEndian.Uint64(buf[4:12]),
	}, nil
}

func (l *Log) flush() error {
	if l.noSync {
		return nil
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", mediastore.ErrIO, err)
	}
	return nil
}
