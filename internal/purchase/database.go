package purchase

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "purchases"

// ErrNotFound is returned when a purchase does not exist
var ErrNotFound = errors.New("purchase not found")

// DB defines the interface for database operations
type DB interface {
	// SavePurchase inserts or replaces a purchase
	SavePurchase(p *Purchase) error

	// GetPurchase retrieves a purchase by ID
	GetPurchase(id string) (*Purchase, error)

	// ListPurchases returns all purchases in no particular order
	ListPurchases() ([]*Purchase, error)

	// DeletePurchase removes a purchase
	DeletePurchase(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SavePurchase stores the purchase as JSON under its ID
func (b *BoltDB) SavePurchase(p *Purchase) error {
	if p.ID == "" {
		return fmt.Errorf("saving purchase: missing id")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling purchase: %w", err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(p.ID), data)
	})
}

// GetPurchase retrieves a purchase by ID
func (b *BoltDB) GetPurchase(id string) (*Purchase, error) {
	var p *Purchase
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPurchases returns all purchases
func (b *BoltDB) ListPurchases() ([]*Purchase, error) {
	purchases := make([]*Purchase, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var p Purchase
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshaling purchase %s: %w", k, err)
			}
			purchases = append(purchases, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

// DeletePurchase removes a purchase; deleting a missing purchase returns ErrNotFound
func (b *BoltDB) DeletePurchase(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
