package downloads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var recordPrefix = []byte("dl:")

func recordKey(id string) []byte {
	return append(append([]byte{}, recordPrefix...), id...)
}

// BadgerConfig configures the embedded record store.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// BadgerStore keeps download records in an embedded BadgerDB. Entries
// carry a TTL matching the record expiry.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a BadgerDB record store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badger dir is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Create stores rec until it expires.
func (s *BadgerStore) Create(_ context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: record already expired", ErrInvalidRequest)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(recordKey(rec.ID), data).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("store record: %w", err)
		}
		return nil
	})
}

// Get loads a record by ID.
func (s *BadgerStore) Get(_ context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record. Deleting an unknown ID is not an error.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(id))
	})
}

// PurgeExpired deletes records whose expiry passed. Badger hides entries
// past their TTL on its own; this catches records whose stored expiry is
// earlier than their TTL and runs value log GC.
func (s *BadgerStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if rec.Expired(now) {
				expired = append(expired, bytes.Clone(item.Key()))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan records: %w", err)
	}

	if len(expired) > 0 {
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, key := range expired {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("delete expired records: %w", err)
		}
	}

	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return int64(len(expired)), fmt.Errorf("value log gc: %w", err)
	}
	return int64(len(expired)), nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
