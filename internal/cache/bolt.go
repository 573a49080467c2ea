package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
)

var (
	bucketSessions = []byte("sessions")
	bucketFailures = []byte("failures")
	bucketSettings = []byte("settings")
)

// BoltStore wraps a BoltDB database holding the durable counterpart pools.
type BoltStore struct {
	db  *bolt.DB
	clk clock.Clock
}

// OpenBolt creates or opens a BoltDB database at the given path and ensures
// all required buckets exist.
func OpenBolt(path string, clk clock.Clock) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSessions, bucketFailures, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, clk: clk}, nil
}

// Close closes the underlying BoltDB.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Sessions returns the durable session pool.
func (s *BoltStore) Sessions() *BoltPool { return &BoltPool{store: s, bucket: bucketSessions} }

// Failures returns the durable rate-limit pool.
func (s *BoltStore) Failures() *BoltPool { return &BoltPool{store: s, bucket: bucketFailures} }

// SaveSetting stores a non-expiring operational value (e.g. the bootstrapped
// TOTP provisioning URI) outside the bridged pools.
func (s *BoltStore) SaveSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}

// LoadSetting reads a setting; missing keys return the empty string.
func (s *BoltStore) LoadSetting(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		value = string(tx.Bucket(bucketSettings).Get([]byte(key)))
		return nil
	})
	return value, err
}

// BoltPool is a Pool stored in one bucket of a BoltStore. Entries are
// JSON-encoded with their absolute expiry; reads treat expired entries as
// misses and Keys skips them, so TTL semantics match the memory pool.
type BoltPool struct {
	store  *BoltStore
	bucket []byte
}

func (p *BoltPool) Get(key string) (Entry, bool, error) {
	var (
		e  Entry
		ok bool
	)
	err := p.store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(p.bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("unmarshal cache entry %q: %w", key, err)
		}
		ok = true
		return nil
	})
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if e.Expired(p.store.clk.Now()) {
		// Lazy reclaim; a failure here only delays cleanup.
		_ = p.Delete(key)
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (p *BoltPool) Set(key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", key, err)
	}
	return p.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Put([]byte(key), data)
	})
}

func (p *BoltPool) Delete(key string) error {
	return p.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Delete([]byte(key))
	})
}

func (p *BoltPool) Keys() ([]string, error) {
	now := p.store.clk.Now()
	var keys []string
	err := p.store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal cache entry %q: %w", k, err)
			}
			if !e.Expired(now) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}

func (p *BoltPool) Clear() error {
	return p.store.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(p.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(p.bucket)
		return err
	})
}
