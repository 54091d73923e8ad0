// Package bbolt provides a BBolt-backed session backend.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mikoworkspace/mikoproxy/storage"
	"go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// Store implements storage.Backend with one key per session id in the
// "sessions" bucket.
type Store struct {
	db *bbolt.DB
}

var _ storage.Backend = (*Store)(nil)

// NewBackend returns a Store backed by the given BBolt database.
func NewBackend(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewBackendFromFile opens a BBolt database at the given path and returns a new Store.
func NewBackendFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBackend(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Location() string {
	return s.db.Path()
}

func (s *Store) Load(context.Context) (storage.Snapshot, error) {
	snap := storage.NewSnapshot()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var sess storage.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return fmt.Errorf("%w: session %q: %v", storage.ErrCorrupt, k, err)
			}
			if sess.Token != "" {
				snap.Sessions[string(k)] = sess
			}
			return nil
		})
	})
	if err != nil {
		return storage.Snapshot{}, err
	}
	return snap, nil
}

// Save drops and recreates the bucket inside a single transaction.
func (s *Store) Save(_ context.Context, snap storage.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(sessionsBucket) != nil {
			if err := tx.DeleteBucket(sessionsBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(sessionsBucket)
		if err != nil {
			return err
		}
		for id, sess := range snap.Sessions {
			data, err := json.Marshal(sess)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}
