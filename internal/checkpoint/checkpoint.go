// Package checkpoint persists enrichment values that were already produced so
// an interrupted or repeated run can reuse them instead of calling the model
// again.
//
// Entries are keyed by a blake2b digest of the model and the exact prompt, so
// a change to the record fields a strategy reads or to the model yields a
// miss.
package checkpoint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/go-crypt/x/blake2b"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "enrich/"

// Entry is the stored form of one field value.
type Entry struct {
	Model   string    `msgpack:"model"`
	Field   string    `msgpack:"field"`
	Value   string    `msgpack:"value"`
	SavedAt time.Time `msgpack:"saved_at"`
}

// Store is a badger-backed checkpoint store. It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) { l.logger.Error(fmt.Sprintf(msg, args...)) }

func (l badgerLogger) Warningf(msg string, args ...any) { l.logger.Warn(fmt.Sprintf(msg, args...)) }

func (l badgerLogger) Infof(msg string, args ...any) { l.logger.Debug(fmt.Sprintf(msg, args...)) }

func (l badgerLogger) Debugf(msg string, args ...any) { l.logger.Debug(fmt.Sprintf(msg, args...)) }

// Open opens (creating if needed) a checkpoint store under dir. An empty dir
// opens an in-memory store.
func Open(dir string) (*Store, error) {
	logger := slog.Default().With("component", "checkpoint")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: ensure dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the stored value for (model, field, prompt), if any.
func (s *Store) Lookup(_ context.Context, model, field, prompt string) (string, bool, error) {
	var entry Entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(model, prompt))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := msgpack.Unmarshal(val, &entry); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			found = entry.Field == field && entry.Model == model
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: lookup: %w", err)
	}
	if !found {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Save records value for (model, field, prompt), replacing any prior entry.
func (s *Store) Save(_ context.Context, model, field, prompt, value string) error {
	b, err := msgpack.Marshal(Entry{
		Model:   model,
		Field:   field,
		Value:   value,
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("checkpoint: encode entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(model, prompt), b)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func key(model, prompt string) []byte {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return []byte(keyPrefix + hex.EncodeToString(h.Sum(nil)))
}
