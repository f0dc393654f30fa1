package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const boltBucket = "redaction_cache"

// BoltStore persists outcomes in an embedded bbolt file so a restarted
// process keeps its cache.
type BoltStore struct {
	db     *bolt.DB
	ttl    time.Duration
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, ttl time.Duration, logger *zap.Logger) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt cache requires a path")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}

	logger.Info("Persistent redaction cache opened", zap.String("path", path))
	return &BoltStore{db: db, ttl: ttl, logger: logger}, nil
}

func (b *BoltStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(boltBucket)).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		b.misses.Add(1)
		return nil, false, fmt.Errorf("bolt get: %w", err)
	}
	if data == nil {
		b.misses.Add(1)
		return nil, false, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || expired(&entry, b.ttl, time.Now()) {
		b.misses.Add(1)
		return nil, false, b.delete(key)
	}
	b.hits.Add(1)
	return &entry, true, nil
}

func (b *BoltStore) Set(_ context.Context, key string, entry *Entry) error {
	entry.CachedAt = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), data)
	})
}

func (b *BoltStore) Stats(context.Context) (*Stats, error) {
	stats := &Stats{Hits: b.hits.Load(), Misses: b.misses.Load()}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	err := b.db.View(func(tx *bolt.Tx) error {
		stats.TotalKeys = int64(tx.Bucket([]byte(boltBucket)).Stats().KeyN)
		return nil
	})
	return stats, err
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})
}
