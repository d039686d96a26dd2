package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/trofi/mediastore/mediastore"
	"github.com/trofi/mediastore/mediastore/index"
)

// Snapshot layout inside the badger container: the interning tables and
// the canonical-direction tuples under ordinal keys, plus the checkpoint
// number. Atoms are stored once and tuples reference them by ordinal, so
// loading re-interns everything through the runtime tables.
const (
	snapPrefixStr   = "str:"
	snapPrefixInt   = "int:"
	snapPrefixTuple = "tup:"
	snapKeyMeta     = "meta:checkpoint"
)

const (
	snapTagInt byte = 0
	snapTagStr byte = 1
)

// snapshotWorker runs snapshots triggered by commits that pushed log use
// past half capacity. One snapshot at a time per handle.
func (d *Database) snapshotWorker() {
	defer d.workerWG.Done()
	for {
		select {
		case <-d.done:
			return
		case <-d.syncCh:
			if err := d.writeSnapshot(); err != nil {
				d.logger.WithError(err).Warn("snapshot failed")
			}
		}
	}
}

// writeSnapshot captures the full state under the read lock, makes it
// durable in the badger container, then writes the checkpoint bracket to
// the log. Transactions committing while the capture is already released
// mark the boundary with a WRITING sentinel (claimed once via syncMark).
func (d *Database) writeSnapshot() error {
	if d.snap == nil {
		return nil
	}

	d.mu.RLock()
	d.log.BeginSync()
	d.syncMark.Store(true)
	strs, ints, tuples := encodeState(d.tables, d.idx)
	checkpoint := d.log.LastSynced()
	d.mu.RUnlock()

	if err := d.snap.DropAll(); err != nil {
		return fmt.Errorf("snapshot drop: %w: %v", mediastore.ErrIO, err)
	}

	wb := d.snap.NewWriteBatch()
	defer wb.Cancel()

	for i, s := range strs {
		if err := wb.Set([]byte(fmt.Sprintf("%s%08d", snapPrefixStr, i)), []byte(s)); err != nil {
			return fmt.Errorf("snapshot write: %w: %v", mediastore.ErrIO, err)
		}
	}
	for i, n := range ints {
		val := binary.LittleEndian.AppendUint32(nil, uint32(n))
		if err := wb.Set([]byte(fmt.Sprintf("%s%08d", snapPrefixInt, i)), val); err != nil {
			return fmt.Errorf("snapshot write: %w: %v", mediastore.ErrIO, err)
		}
	}
	for i, tup := range tuples {
		if err := wb.Set([]byte(fmt.Sprintf("%s%08d", snapPrefixTuple, i)), tup); err != nil {
			return fmt.Errorf("snapshot write: %w: %v", mediastore.ErrIO, err)
		}
	}
	meta := binary.LittleEndian.AppendUint64(nil, checkpoint)
	if err := wb.Set([]byte(snapKeyMeta), meta); err != nil {
		return fmt.Errorf("snapshot write: %w: %v", mediastore.ErrIO, err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("snapshot flush: %w: %v", mediastore.ErrIO, err)
	}
	if err := d.snap.Sync(); err != nil {
		return fmt.Errorf("snapshot sync: %w: %v", mediastore.ErrIO, err)
	}

	d.syncMark.Store(false)
	if err := d.log.WriteCheckpoint(); err != nil {
		return err
	}

	d.logger.WithField("tuples", len(tuples)).Debug("snapshot written")
	return nil
}

// encodeState flattens the tables and the index into ordinal-addressed
// records. Atoms referenced by tuples get their ordinals in tuple walk
// order; atoms interned but unreferenced follow, sorted, so the table
// contents survive in full and the encoding stays deterministic.
func encodeState(tables *mediastore.Tables, ix *index.Index) (strs []string, ints []int32, tuples [][]byte) {
	strIDs := make(map[string]uint32)
	intIDs := make(map[int32]uint32)

	strOrd := func(s string) uint32 {
		id, ok := strIDs[s]
		if !ok {
			id = uint32(len(strs))
			strIDs[s] = id
			strs = append(strs, s)
		}
		return id
	}
	intOrd := func(n int32) uint32 {
		id, ok := intIDs[n]
		if !ok {
			id = uint32(len(ints))
			intIDs[n] = id
			ints = append(ints, n)
		}
		return id
	}
	valRef := func(buf *bytes.Buffer, v mediastore.Value) {
		if s, ok := v.Str(); ok {
			buf.WriteByte(snapTagStr)
			binary.Write(buf, binary.LittleEndian, strOrd(s))
			return
		}
		n, _ := v.Int()
		buf.WriteByte(snapTagInt)
		binary.Write(buf, binary.LittleEndian, intOrd(n))
	}

	ix.Each(func(b *index.Bucket) {
		for _, e := range b.Edges() {
			if !canonical(b, e) {
				continue
			}
			buf := &bytes.Buffer{}
			binary.Write(buf, binary.LittleEndian, strOrd(*b.Key))
			valRef(buf, b.Val)
			binary.Write(buf, binary.LittleEndian, strOrd(*e.Key))
			valRef(buf, e.Val)
			binary.Write(buf, binary.LittleEndian, strOrd(*e.Src))
			tuples = append(tuples, buf.Bytes())
		}
	})

	var rest []string
	tables.Strings.Each(func(id *string) {
		if _, ok := strIDs[*id]; !ok {
			rest = append(rest, *id)
		}
	})
	sort.Strings(rest)
	for _, s := range rest {
		strOrd(s)
	}

	var restInts []int32
	tables.Ints.Each(func(id *int32) {
		if _, ok := intIDs[*id]; !ok {
			restInts = append(restInts, *id)
		}
	})
	sort.Slice(restInts, func(i, j int) bool { return restInts[i] < restInts[j] })
	for _, n := range restInts {
		intOrd(n)
	}

	return strs, ints, tuples
}

// loadSnapshot rebuilds the tables and the index from the container and
// returns the checkpoint number the snapshot covers. An empty container
// yields empty state and checkpoint 0.
func (d *Database) loadSnapshot() (uint64, error) {
	var (
		strs       []*string
		ints       []int32
		checkpoint uint64
	)

	err := d.snap.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		err := func() error {
			prefix := []byte(snapPrefixStr)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				err := it.Item().Value(func(v []byte) error {
					strs = append(strs, d.tables.InternString(string(v)))
					return nil
				})
				if err != nil {
					return err
				}
			}

			prefix = []byte(snapPrefixInt)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				err := it.Item().Value(func(v []byte) error {
					if len(v) != 4 {
						return fmt.Errorf("%w: int record of %d bytes", mediastore.ErrCorruptLog, len(v))
					}
					n := int32(binary.LittleEndian.Uint32(v))
					d.tables.InternInt(n)
					ints = append(ints, n)
					return nil
				})
				if err != nil {
					return err
				}
			}

			prefix = []byte(snapPrefixTuple)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				err := it.Item().Value(func(v []byte) error {
					return d.loadTuple(v, strs, ints)
				})
				if err != nil {
					return err
				}
			}
			return nil
		}()
		it.Close()
		if err != nil {
			return err
		}

		item, err := txn.Get([]byte(snapKeyMeta))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) == 8 {
				checkpoint = binary.LittleEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	return checkpoint, nil
}

// loadTuple decodes one tuple record and inserts both directions.
func (d *Database) loadTuple(raw []byte, strs []*string, ints []int32) error {
	rd := bytes.NewReader(raw)

	str := func() (*string, error) {
		var ord uint32
		if err := binary.Read(rd, binary.LittleEndian, &ord); err != nil {
			return nil, err
		}
		if int(ord) >= len(strs) {
			return nil, fmt.Errorf("%w: string ordinal %d", mediastore.ErrCorruptLog, ord)
		}
		return strs[ord], nil
	}
	val := func() (mediastore.Value, error) {
		tag, err := rd.ReadByte()
		if err != nil {
			return mediastore.Value{}, err
		}
		var ord uint32
		if err := binary.Read(rd, binary.LittleEndian, &ord); err != nil {
			return mediastore.Value{}, err
		}
		switch tag {
		case snapTagStr:
			if int(ord) >= len(strs) {
				return mediastore.Value{}, fmt.Errorf("%w: string ordinal %d", mediastore.ErrCorruptLog, ord)
			}
			return d.tables.InternValue(mediastore.StringValue(*strs[ord])), nil
		case snapTagInt:
			if int(ord) >= len(ints) {
				return mediastore.Value{}, fmt.Errorf("%w: int ordinal %d", mediastore.ErrCorruptLog, ord)
			}
			return d.tables.InternValue(mediastore.IntValue(ints[ord])), nil
		}
		return mediastore.Value{}, fmt.Errorf("%w: value tag %d", mediastore.ErrCorruptLog, tag)
	}

	ka, err := str()
	if err != nil {
		return err
	}
	va, err := val()
	if err != nil {
		return err
	}
	kb, err := str()
	if err != nil {
		return err
	}
	vb, err := val()
	if err != nil {
		return err
	}
	src, err := str()
	if err != nil {
		return err
	}

	d.idx.Add(ka, va, kb, vb, src)
	return nil
}
