package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var ledgerBucket = []byte("ledger")

// BoltStore persists the rate-limit ledger in a bbolt database so the
// validation budget survives process restarts.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore wraps an already-open bbolt database.
func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

// NewBoltStoreFromFile opens (or creates) a bbolt database at path.
func NewBoltStoreFromFile(path string, options *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	return NewBoltStore(db), nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Append(identity string, t time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(ledgerBucket)
		if err != nil {
			return err
		}

		stamps, err := decodeStamps(b.Get([]byte(identity)))
		if err != nil {
			stamps = nil
		}
		stamps = append(stamps, t)

		data, err := json.Marshal(stamps)
		if err != nil {
			return err
		}
		return b.Put([]byte(identity), data)
	})
}

func (s *BoltStore) Load() (map[string][]time.Time, error) {
	out := make(map[string][]time.Time)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			stamps, err := decodeStamps(v)
			if err != nil {
				return err
			}
			out[string(k)] = stamps
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	return out, nil
}

func (s *BoltStore) Prune(cutoff time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		if b == nil {
			return nil
		}

		type update struct {
			key    []byte
			stamps []time.Time
		}
		var updates []update

		err := b.ForEach(func(k, v []byte) error {
			stamps, err := decodeStamps(v)
			if err != nil {
				return err
			}
			kept := stamps[:0]
			for _, t := range stamps {
				if !t.Before(cutoff) {
					kept = append(kept, t)
				}
			}
			if len(kept) != len(stamps) {
				key := make([]byte, len(k))
				copy(key, k)
				updates = append(updates, update{key: key, stamps: kept})
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, u := range updates {
			if len(u.stamps) == 0 {
				if err := b.Delete(u.key); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(u.stamps)
			if err != nil {
				return err
			}
			if err := b.Put(u.key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeStamps(data []byte) ([]time.Time, error) {
	if data == nil {
		return nil, nil
	}
	var stamps []time.Time
	if err := json.Unmarshal(data, &stamps); err != nil {
		return nil, err
	}
	return stamps, nil
}
