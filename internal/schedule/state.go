package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// statePrefix namespaces job state keys in the shared badger directory.
const statePrefix = "job:state:"

// jobState is the persisted record for one job. Kept as JSON so new fields
// stay readable across upgrades.
type jobState struct {
	LastFired time.Time `json:"last_fired"`
}

// StateStore persists job last-fired timestamps in BadgerDB so a restart
// never re-fires an already-satisfied one-time job or cron tick.
type StateStore struct {
	db *badger.DB
}

// OpenStateStore opens (or creates) the state database at path.
func OpenStateStore(path string) (*StateStore, error) {
	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return &StateStore{db: db}, nil
}

// OpenInMemoryStateStore opens a store that lives only for the process,
// used by tests and by deployments that accept re-fires across restarts.
func OpenInMemoryStateStore() (*StateStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory state store: %w", err)
	}
	return &StateStore{db: db}, nil
}

// SetLastFired records a successful dispatch instant for the named job.
func (s *StateStore) SetLastFired(name string, t time.Time) error {
	data, err := json.Marshal(jobState{LastFired: t})
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(statePrefix+name), data)
	})
}

// LastFired returns the persisted instant for the named job, or a zero time
// when the job has never fired.
func (s *StateStore) LastFired(name string) (time.Time, error) {
	var state jobState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(statePrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err == badger.ErrKeyNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read job state: %w", err)
	}
	return state.LastFired, nil
}

// LoadAll returns the persisted last-fired map, scanned once at startup.
func (s *StateStore) LoadAll() (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(statePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(statePrefix):])
			err := item.Value(func(val []byte) error {
				var state jobState
				if err := json.Unmarshal(val, &state); err != nil {
					return nil // skip malformed entries
				}
				out[name] = state.LastFired
				return nil
			})
			if err != nil {
				continue
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}
