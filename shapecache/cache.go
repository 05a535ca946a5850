// Package shapecache remembers per-file scan results keyed by content hash so
// repeated scans of a game directory only decode files that changed.
package shapecache

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/openfa/common"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// summaryVersion is bumped whenever Summary or the decoders change meaning,
// which invalidates every stored entry.
const summaryVersion = 1

var summaryPrefix = []byte("sum/")

// Cache wraps LevelDB. Safe for concurrent use.
type Cache struct {
	db *leveldb.DB
}

// Open opens or creates the cache at path. An empty path gives an in-memory
// cache.
func Open(path string) (*Cache, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

func summaryKey(h common.ContentHash) []byte {
	return append(append([]byte(nil), summaryPrefix...), h.Bytes()...)
}

// Get returns the stored summary for h. Entries written by another summary
// version read as misses.
func (c *Cache) Get(h common.ContentHash) (*Summary, bool, error) {
	data, err := c.db.Get(summaryKey(h), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %s: %w", h.Hex(), err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("decode cached summary %s: %w", h.Hex(), err)
	}
	if s.Version != summaryVersion {
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *Cache) Put(s *Summary) error {
	s.Version = summaryVersion
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.db.Put(summaryKey(s.Hash), data, nil)
}

func (c *Cache) Delete(h common.ContentHash) error {
	return c.db.Delete(summaryKey(h), nil)
}

// All returns every stored summary in key order.
func (c *Cache) All() ([]*Summary, error) {
	iter := c.db.NewIterator(util.BytesPrefix(summaryPrefix), nil)
	defer iter.Release()
	var out []*Summary
	for iter.Next() {
		var s Summary
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			return nil, fmt.Errorf("decode cached summary %x: %w", iter.Key(), err)
		}
		if s.Version == summaryVersion {
			out = append(out, &s)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate cache: %w", err)
	}
	return out, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
