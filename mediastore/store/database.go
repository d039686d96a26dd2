// Package store composes the engine: the interning tables, the relation
// index, the write-ahead log and the snapshot container behind one
// Database handle with transactional reads and writes.
package store

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/trofi/mediastore/mediastore"
	"github.com/trofi/mediastore/mediastore/index"
	"github.com/trofi/mediastore/mediastore/wal"
)

// OpenFlag selects how Open treats the path.
type OpenFlag int

const (
	// OpenMemory keeps everything in process memory: no files, no log,
	// no durability.
	OpenMemory OpenFlag = 1 << iota
	// OpenNew fails with ErrExists when a database is already present.
	OpenNew
	// OpenExists fails with ErrNoEnt when none is.
	OpenExists
)

// OpenDefault opens an existing database or creates a fresh one.
const OpenDefault OpenFlag = 0

// Database is one open handle. All mutation serializes on its writer
// lock; readers share it. Interning tables, log counters and the source
// preference caches carry their own smaller locks.
type Database struct {
	mu     sync.RWMutex
	tables *mediastore.Tables
	idx    *index.Index

	path   string
	cfg    Config
	logger *logrus.Entry

	log  *wal.Log   // nil in memory mode
	snap *badger.DB // nil in memory mode

	txMu     sync.Mutex
	activeTx map[*Transaction]bool
	txWG     sync.WaitGroup

	syncCh   chan struct{}
	done     chan struct{}
	workerWG sync.WaitGroup

	syncMark atomic.Bool // one WRITING sentinel claim per running snapshot
	readOnly atomic.Bool
	closed   atomic.Bool
}

// Open opens or creates the database at path. cfg may be nil. With
// OpenMemory the path is ignored.
func Open(path string, cfg *Config, flags OpenFlag) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	d := &Database{
		tables:   mediastore.NewTables(),
		idx:      index.New(),
		path:     path,
		cfg:      *cfg,
		activeTx: make(map[*Transaction]bool),
		syncCh:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if flags&OpenMemory != 0 {
		d.logger = cfg.entry("")
		return d, nil
	}

	if path == "" {
		return nil, fmt.Errorf("open: %w: empty path", mediastore.ErrNoEnt)
	}
	d.logger = cfg.entry(path)

	_, err := os.Stat(path)
	exists := err == nil
	if flags&OpenNew != 0 && exists {
		return nil, fmt.Errorf("open %s: %w", path, mediastore.ErrExists)
	}
	if flags&OpenExists != 0 && !exists {
		return nil, fmt.Errorf("open %s: %w", path, mediastore.ErrNoEnt)
	}

	logPath := path + ".log"
	if !exists {
		// A log left behind by a deleted database must not replay into
		// the fresh one.
		os.Remove(logPath)
	}

	l, created, err := wal.Open(logPath, cfg.NoSync, d.logger)
	if err != nil {
		return nil, err
	}
	d.log = l

	if err := l.LockLog(); err != nil {
		l.Close()
		return nil, err
	}
	if err := l.LockDB(); err != nil {
		l.UnlockLog()
		l.Close()
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	snap, err := badger.Open(opts)
	if err != nil {
		d.releaseLog()
		return nil, fmt.Errorf("open snapshot %s: %w: %v", path, mediastore.ErrIO, err)
	}
	d.snap = snap

	checkpoint, err := d.loadSnapshot()
	if err != nil {
		snap.Close()
		d.releaseLog()
		return nil, err
	}

	l.Init(checkpoint)
	if !created {
		if err := l.Replay(d.tables, d.applyRecovered); err != nil {
			snap.Close()
			d.releaseLog()
			return nil, err
		}
	}

	d.workerWG.Add(1)
	go d.snapshotWorker()

	d.logger.WithFields(logrus.Fields{
		"checkpoint": checkpoint,
		"buckets":    d.idx.Buckets(),
	}).Debug("database open")
	return d, nil
}

// applyRecovered replays one committed bracket into the index. Failures
// of individual operations are ignored so that replay over an
// already-current snapshot stays idempotent.
func (d *Database) applyRecovered(ops *mediastore.Oplist) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops.Ops() {
		switch op.Type {
		case mediastore.OpAdd:
			d.idx.Add(op.KeyA, op.ValA, op.KeyB, op.ValB, op.Src)
		case mediastore.OpDel:
			d.idx.Del(op.KeyA, op.ValA, op.KeyB, op.ValB, op.Src)
		}
	}
}

func (d *Database) releaseLog() {
	d.log.UnlockDB()
	d.log.UnlockLog()
	d.log.Close()
}

// Close waits for outstanding transactions, writes a final snapshot and
// checkpoint, stops the worker and releases every resource. The handle
// is unusable afterwards.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Abort anything still in flight, then wait for the stragglers.
	d.txMu.Lock()
	open := make([]*Transaction, 0, len(d.activeTx))
	for tx := range d.activeTx {
		open = append(open, tx)
	}
	d.txMu.Unlock()
	for _, tx := range open {
		tx.Abort()
	}
	d.txWG.Wait()

	close(d.done)
	d.workerWG.Wait()

	if d.snap == nil {
		return nil
	}

	var firstErr error
	if !d.cfg.SkipFinalSnapshot && !d.readOnly.Load() {
		if err := d.writeSnapshot(); err != nil {
			firstErr = err
		}
	}
	if err := d.snap.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close snapshot: %w: %v", mediastore.ErrIO, err)
	}
	d.log.UnlockDB()
	d.log.UnlockLog()
	if err := d.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// crashClose drops the handle without the final snapshot, checkpoint or
// clean shutdown, leaving the files exactly as a process death would.
// Recovery tests reopen the path afterwards.
func (d *Database) crashClose() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.done)
	d.workerWG.Wait()
	if d.snap != nil {
		d.snap.Close()
		d.releaseLog()
	}
}

// TxFlag modifies Begin.
type TxFlag int

const (
	// TxReadOnly transactions hold the shared lock from begin to end,
	// observe a consistent point-in-time state, and skip the log.
	TxReadOnly TxFlag = 1 << iota
)

// Begin starts a transaction.
func (d *Database) Begin(flags TxFlag) (*Transaction, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("begin: %w", mediastore.ErrOpen)
	}

	tx := &Transaction{
		db:    d,
		flags: flags,
		ops:   mediastore.NewOplist(),
	}
	if flags&TxReadOnly != 0 {
		d.mu.RLock()
	}

	d.txMu.Lock()
	d.activeTx[tx] = true
	d.txMu.Unlock()
	d.txWG.Add(1)
	return tx, nil
}

func (d *Database) forget(tx *Transaction) {
	d.txMu.Lock()
	if d.activeTx[tx] {
		delete(d.activeTx, tx)
		d.txWG.Done()
	}
	d.txMu.Unlock()
}

// Tuple is one stored relationship in canonical direction, as surfaced
// by Tuples.
type Tuple struct {
	KeyA string
	ValA mediastore.Value
	KeyB string
	ValB mediastore.Value
	Src  string
}

// Tuples returns every stored relationship once, in deterministic order.
// The inverse directions are implied.
func (d *Database) Tuples() []Tuple {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Tuple
	d.idx.Each(func(b *index.Bucket) {
		for _, e := range b.Edges() {
			if !canonical(b, e) {
				continue
			}
			out = append(out, Tuple{
				KeyA: *b.Key,
				ValA: b.Val,
				KeyB: *e.Key,
				ValB: e.Val,
				Src:  *e.Src,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool { return tupleLess(out[i], out[j]) })
	return out
}

// canonical picks one of the two stored directions of a relationship:
// the one whose (key, value) pair sorts first. A self-symmetric pair is
// stored only once and is always canonical.
func canonical(b *index.Bucket, e index.Edge) bool {
	if *b.Key != *e.Key {
		return *b.Key < *e.Key
	}
	return b.Val.Compare(e.Val) <= 0
}

func tupleLess(a, b Tuple) bool {
	if a.KeyA != b.KeyA {
		return a.KeyA < b.KeyA
	}
	if c := a.ValA.Compare(b.ValA); c != 0 {
		return c < 0
	}
	if a.KeyB != b.KeyB {
		return a.KeyB < b.KeyB
	}
	if c := a.ValB.Compare(b.ValB); c != 0 {
		return c < 0
	}
	return a.Src < b.Src
}
