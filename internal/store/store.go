// Package store is the TTL-keyed idempotency and throttle ledger. Records
// expire on their own; a live record for an event id is the sole signal that
// the event has already been accepted for processing.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	recordPrefix = "ctx:"
	userPrefix   = "user:"

	// DefaultTTL matches the upstream one-hour context window.
	DefaultTTL = time.Hour
)

// Store keeps one ContextRecord per accepted event, expiring after TTL.
// A secondary index keyed by user backs the throttle count without scanning
// the whole keyspace.
type Store struct {
	db        *badger.DB
	ttl       time.Duration
	failOpen  bool
	ceiling   int
	logger    *slog.Logger
	closeOnce sync.Once
}

// Options configures the store.
type Options struct {
	Path     string
	InMemory bool
	TTL      time.Duration
	// FailOpen controls CountByUser behavior on backend errors: true
	// returns 0 (throttling may be bypassed during degradation), false
	// returns the ceiling so callers drop instead.
	FailOpen bool
	Ceiling  int
	Logger   *slog.Logger
}

// Open opens (creating if needed) the backing database.
func Open(opt Options) (*Store, error) {
	if opt.TTL <= 0 {
		opt.TTL = DefaultTTL
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	var badgerOpts badger.Options
	if opt.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opt.Path == "" {
			opt.Path = filepath.Join(os.TempDir(), "relaybot-store")
		}
		badgerOpts = badger.DefaultOptions(opt.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Store{
		db:       db,
		ttl:      opt.TTL,
		failOpen: opt.FailOpen,
		ceiling:  opt.Ceiling,
		logger:   opt.Logger,
	}, nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.db.Close() })
	return err
}

// Get returns the conversation snapshot stored under key, or "" when the
// record is absent, expired, or the backend errors. Reads fail soft.
func (s *Store) Get(ctx context.Context, key string) string {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(val)
		return nil
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		s.logger.Warn("context read failed", "key", key, "err", err)
	}
	return value
}

// Put writes a record plus its user index entry, both expiring after TTL.
// Durability is best-effort: a failed write only risks one duplicate
// reprocess, so errors are logged and swallowed.
func (s *Store) Put(ctx context.Context, key, payload, userID string) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return s.setRecord(txn, key, payload, userID)
	})
	if err != nil {
		s.logger.Warn("context write failed", "key", key, "err", err)
	}
}

// PutIfAbsent records the event only when no live record exists, in one
// transaction. It reports whether this call created the record, closing the
// race where two deliveries of the same event both observe "absent".
// Backend errors resolve to true: processing once too often beats not at all.
func (s *Store) PutIfAbsent(ctx context.Context, key, payload, userID string) bool {
	inserted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(recordPrefix + key))
		if err == nil {
			return nil // already present
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := s.setRecord(txn, key, payload, userID); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		s.logger.Warn("context check-and-set failed", "key", key, "err", err)
		return true
	}
	return inserted
}

func (s *Store) setRecord(txn *badger.Txn, key, payload, userID string) error {
	entry := badger.NewEntry([]byte(recordPrefix+key), []byte(payload)).WithTTL(s.ttl)
	if err := txn.SetEntry(entry); err != nil {
		return err
	}
	if userID == "" {
		return nil
	}
	index := badger.NewEntry([]byte(userPrefix+userID+":"+key), nil).WithTTL(s.ttl)
	return txn.SetEntry(index)
}

// CountByUser returns the number of live records created for a user inside
// the TTL window, via the user index. On backend error it fails open
// (returns 0) or closed (returns the ceiling) per configuration.
func (s *Store) CountByUser(ctx context.Context, userID string) int {
	count := 0
	prefix := []byte(userPrefix + userID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("throttle count failed", "user", userID, "fail_open", s.failOpen, "err", err)
		if s.failOpen {
			return 0
		}
		return s.ceiling
	}
	return count
}
