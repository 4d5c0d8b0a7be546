package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var boltBucket = []byte("sessions")

// BoltRepository stores the session in an embedded BBolt database.
type BoltRepository struct {
	db  *bbolt.DB
	key []byte
}

var _ Repository = (*BoltRepository)(nil)

// NewBoltRepository returns a repository using an already opened database.
func NewBoltRepository(db *bbolt.DB, namespace string) *BoltRepository {
	return &BoltRepository{db: db, key: []byte(recordKey(namespace))}
}

// NewBoltRepositoryFromFile opens (or creates) the database at path.
func NewBoltRepositoryFromFile(path, namespace string) (*BoltRepository, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltRepository(db, namespace), nil
}

// Close closes the underlying database.
func (b *BoltRepository) Close() error {
	return b.db.Close()
}

func (b *BoltRepository) Load(ctx context.Context) (Persisted, error) {
	var p Persisted
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return ErrNotFound
		}
		data := bucket.Get(b.key)
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("failed to decode bolt session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Persisted{}, err
	}
	return p, nil
}

func (b *BoltRepository) Save(ctx context.Context, p Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bucket.Put(b.key, data)
	})
}

func (b *BoltRepository) Clear(ctx context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete(b.key)
	})
}
