package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/adcm/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketOutbox = []byte("outbox")

// OutboxEntry is a committed event waiting for delivery
type OutboxEntry struct {
	Seq       uint64       `json:"-"`
	ID        string       `json:"id"`
	Event     *types.Event `json:"event"`
	CreatedAt time.Time    `json:"created_at"`
	Attempts  int          `json:"attempts"`
}

func (tx *Tx) flushOutbox() error {
	if len(tx.events) == 0 {
		return nil
	}
	b := tx.btx.Bucket(bucketOutbox)
	for _, ev := range tx.events {
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate outbox sequence: %w", err)
		}
		data, err := json.Marshal(&OutboxEntry{ID: uuid.NewString(), Event: ev, CreatedAt: tx.now})
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if err := b.Put(itob(int64(seq)), data); err != nil {
			return err
		}
	}
	return nil
}

// PendingEvents returns up to limit undelivered events in commit order
func (s *Store) PendingEvents(limit int) ([]*OutboxEntry, error) {
	var out []*OutboxEntry
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketOutbox).Cursor()
		for k, v := c.First(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var e OutboxEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode outbox entry: %w", err)
			}
			e.Seq = uint64(btoi(k))
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

// AckEvents removes delivered (or discarded) entries
func (s *Store) AckEvents(entries ...*OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucketOutbox)
		for _, e := range entries {
			if err := b.Delete(itob(int64(e.Seq))); err != nil {
				return err
			}
		}
		return nil
	})
}

// OutboxLen returns the number of undelivered events
func (s *Store) OutboxLen() int {
	n := 0
	_ = s.db.View(func(btx *bolt.Tx) error {
		n = btx.Bucket(bucketOutbox).Stats().KeyN
		return nil
	})
	return n
}
