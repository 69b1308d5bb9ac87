package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketResponses = []byte("responses")

type envelope struct {
	ExpiresAt int64           `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

// BoltStore persists cache entries in a bbolt file so warm results survive
// restarts.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	var env envelope
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResponses).Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}

	if time.Now().Unix() > env.ExpiresAt {
		// Expired entries are collected lazily on read.
		_ = s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketResponses).Delete([]byte(key))
		})
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (s *BoltStore) Set(key string, val []byte, ttl time.Duration) error {
	env := envelope{
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Data:      val,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResponses).Put([]byte(key), data)
	})
}

func (s *BoltStore) DeleteByPrefix(prefix string) error {
	p := []byte(prefix)
	return s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketResponses).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketResponses).Stats().KeyN
		return nil
	})
	return count, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
