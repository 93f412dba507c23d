package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
)

var badgerPrefix = []byte("tool_cache/")

// BadgerCache stores entries in an embedded badger database. Positive TTLs
// are also set on the badger entry so the value log reclaims them.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens (or creates) a badger cache at path. An empty path
// opens an in-memory database.
func OpenBadgerCache(path string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: open badger %s", path)
	}
	return &BadgerCache{db: db}, nil
}

func badgerKey(key string) []byte {
	return append(append([]byte{}, badgerPrefix...), key...)
}

// Get implements Cache.
func (c *BadgerCache) Get(_ context.Context, key string) (*model.CacheEntry, error) {
	var entry *model.CacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e model.CacheEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			entry = &e
			return nil
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "cache: badger get")
	}
	return entry, nil
}

// Put implements Cache.
func (c *BadgerCache) Put(_ context.Context, entry model.CacheEntry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "cache: badger encode")
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(badgerKey(entry.Key), val)
		if entry.TTL > 0 {
			e = e.WithTTL(entry.TTL)
		}
		return txn.SetEntry(e)
	})
	return eris.Wrap(err, "cache: badger put")
}

// Delete implements Cache.
func (c *BadgerCache) Delete(_ context.Context, key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	return eris.Wrap(err, "cache: badger delete")
}

// Prune implements Cache.
func (c *BadgerCache) Prune(ctx context.Context, now time.Time) (int, error) {
	var expired [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e model.CacheEntry
				if err := json.Unmarshal(val, &e); err != nil || e.Expired(now) {
					expired = append(expired, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "cache: badger scan")
	}
	if len(expired) == 0 {
		return 0, nil
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range expired {
		if err := wb.Delete(k); err != nil {
			return 0, eris.Wrap(err, "cache: badger prune")
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, eris.Wrap(err, "cache: badger prune")
	}
	return len(expired), nil
}

// Close implements Cache.
func (c *BadgerCache) Close() error {
	return eris.Wrap(c.db.Close(), "cache: badger close")
}
