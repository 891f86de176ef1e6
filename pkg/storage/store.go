package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/adcm/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Transactor runs functions inside read-write and read-only transactions
type Transactor interface {
	Update(fn func(tx *Tx) error) error
	View(fn func(tx *Tx) error) error
}

// CommitHook receives the events of a committed transaction, in emit order
type CommitHook func(events []*types.Event)

// Store is the bbolt-backed entity store. All reads and writes go through
// View and Update; bbolt serializes writers.
type Store struct {
	db     *bolt.DB
	path   string
	notify chan struct{}

	mu    sync.RWMutex
	hooks []CommitHook
}

// Tx is one store transaction. Events emitted inside a read-write
// transaction are written to the outbox with the rest of the changes and
// handed to commit hooks only after the commit succeeds.
type Tx struct {
	btx    *bolt.Tx
	events []*types.Event
	after  []func()
	now    time.Time
}

// Open opens (creating if needed) <dataDir>/adcm.db
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "adcm.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets() {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: dbPath, notify: make(chan struct{}, 1)}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// OnCommit registers a hook called after every committed transaction that
// emitted events
func (s *Store) OnCommit(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Notify returns a channel signalled when new outbox rows are committed
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}

// Update runs fn in a read-write transaction. Any error rolls back every
// change, outbox rows included.
func (s *Store) Update(fn func(tx *Tx) error) error {
	tx := &Tx{now: time.Now().UTC()}
	err := s.db.Update(func(btx *bolt.Tx) error {
		tx.btx = btx
		if err := fn(tx); err != nil {
			return err
		}
		return tx.flushOutbox()
	})
	if err != nil {
		return err
	}

	for _, f := range tx.after {
		f()
	}
	if len(tx.events) > 0 {
		s.mu.RLock()
		hooks := s.hooks
		s.mu.RUnlock()
		for _, h := range hooks {
			h(tx.events)
		}
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// View runs fn in a read-only transaction
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx, now: time.Now().UTC()})
	})
}

// Now returns the timestamp of the transaction
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Writable reports whether the transaction may write
func (tx *Tx) Writable() bool {
	return tx.btx.Writable()
}

// Emit queues an event for the outbox
func (tx *Tx) Emit(ev *types.Event) {
	tx.events = append(tx.events, ev)
}

// Events returns the events queued so far
func (tx *Tx) Events() []*types.Event {
	return tx.events
}

// AfterCommit registers fn to run once the transaction has committed
func (tx *Tx) AfterCommit(fn func()) {
	tx.after = append(tx.after, fn)
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
