// Package actioncache implements C3: the fingerprint-keyed action cache.
// Entries live as atomically-written {fingerprint}.entry files under a
// sharded directory tree (§6.3); a bbolt secondary index (adapted from
// eve.evalgo.org/db/bolt's DB wrapper) tracks last-access time and size so
// LRU eviction never has to stat the whole tree.
package actioncache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/forgelog"
	"github.com/forgecore/forgecore/pkg/hashing"
)

const indexBucket = "fingerprints"

// Config configures a Cache instance.
type Config struct {
	Root          string        // root directory; contains the action-cache subtree
	WorkspaceKey  [hashing.Size]byte // workspace secret, already derived via hashing.DeriveKey
	MaxBytes      int64         // eviction cap; 0 disables eviction
	EvictBatchPct float64       // fraction of entries evicted per pass, default 0.10
}

// Cache is the on-disk, keyed action cache.
type Cache struct {
	cfg Config
	log *forgelog.Logger

	idx *bolt.DB

	mu        sync.Mutex // serializes eviction; per-fingerprint writes are deduplicated by writeOnce
	writeOnce sync.Map   // in-flight writes, deduplicates concurrent Put for the same fingerprint
}

// Open opens (creating if necessary) the action cache rooted at cfg.Root.
func Open(cfg Config, log *forgelog.Logger) (*Cache, error) {
	if cfg.EvictBatchPct == 0 {
		cfg.EvictBatchPct = 0.10
	}
	if log == nil {
		log = forgelog.Nop()
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, "action-cache"), 0o755); err != nil {
		return nil, ferr.New(ferr.KindIO, "actioncache.Open", cfg.Root, err)
	}
	// One index file per workspace key: bbolt locks its file exclusively, so
	// two workspaces sharing cfg.Root cannot share a single index.
	idxID, err := hashing.SumKeyed(cfg.WorkspaceKey, []byte("index"))
	if err != nil {
		return nil, ferr.New(ferr.KindConfig, "actioncache.Open", cfg.Root, err)
	}
	db, err := bolt.Open(filepath.Join(cfg.Root, "index-"+idxID.Hex()[:16]+".bolt"), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, ferr.New(ferr.KindIO, "actioncache.Open", cfg.Root, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(indexBucket))
		return err
	})
	if err != nil {
		return nil, ferr.New(ferr.KindIO, "actioncache.Open", cfg.Root, err)
	}
	return &Cache{cfg: cfg, log: log, idx: db}, nil
}

func (c *Cache) Close() error { return c.idx.Close() }

// keyedFingerprint mixes the workspace secret into the raw action
// fingerprint via keyed BLAKE3 (§4.3 cross-workspace isolation).
func (c *Cache) keyedFingerprint(raw hashing.Digest) hashing.Digest {
	d, err := hashing.SumKeyed(c.cfg.WorkspaceKey, raw[:])
	if err != nil {
		// keyed mode only fails on malformed keys, which cannot happen
		// here since WorkspaceKey is always 32 bytes.
		return raw
	}
	return d
}

func (c *Cache) entryPath(keyed hashing.Digest) string {
	hex := keyed.Hex()
	return filepath.Join(c.cfg.Root, "action-cache", hex[:2], hex+".entry")
}

// Put stores v under k. If an entry already exists for k: when v's encoded
// bytes are identical (same content), the write is a deterministic no-op;
// Put never silently overwrites different content under the same
// fingerprint — callers are expected to key on content-determining inputs.
// Concurrent Put for the same fingerprint on one Cache is deduplicated by
// writeOnce, so only one of them writes; the entry goes to a
// timestamp-named temp file that is then renamed into place.
func (c *Cache) Put(raw hashing.Digest, e *Entry) error {
	keyed := c.keyedFingerprint(raw)
	path := c.entryPath(keyed)

	actual, loaded := c.writeOnce.LoadOrStore(path, make(chan struct{}))
	done := actual.(chan struct{})
	if loaded {
		<-done // another goroutine is writing this fingerprint; wait and no-op
		return nil
	}
	defer func() {
		close(done)
		c.writeOnce.Delete(path)
	}()

	if _, err := os.Stat(path); err == nil {
		return nil // already on disk; put(k,v) followed by put(k,v) is idempotent
	}

	e.Fingerprint = keyed
	now := time.Now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.LastAccess = now

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferr.New(ferr.KindIO, "actioncache.Put", keyed.Hex(), err)
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	data := encodeEntry(e)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferr.New(ferr.KindIO, "actioncache.Put", keyed.Hex(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ferr.New(ferr.KindIO, "actioncache.Put", keyed.Hex(), err)
	}

	if err := c.indexPut(keyed.Hex(), now, int64(len(data))); err != nil {
		c.log.Warn("actioncache: index update failed", map[string]interface{}{"fingerprint": keyed.Hex(), "err": err.Error()})
	}

	if c.cfg.MaxBytes > 0 {
		if err := c.maybeEvict(); err != nil {
			c.log.Warn("actioncache: eviction pass failed, will retry on next write", map[string]interface{}{"err": err.Error()})
		}
	}
	return nil
}

// Get retrieves the entry for raw, updating its last-access time. A
// corrupted on-disk entry (content-digest mismatch) is treated as a miss
// and purged (§4.3 failure modes).
func (c *Cache) Get(raw hashing.Digest) (*Entry, error) {
	keyed := c.keyedFingerprint(raw)
	path := c.entryPath(keyed)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferr.New(ferr.KindCache, "actioncache.Get", keyed.Hex(), ferr.ErrNotFound).WithPromotable()
		}
		return nil, ferr.New(ferr.KindIO, "actioncache.Get", keyed.Hex(), err)
	}

	e, err := decodeEntry(data)
	if err != nil {
		if ferr.IsPromotableMiss(err) {
			os.Remove(path)
			c.indexDelete(keyed.Hex())
			return nil, err
		}
		return nil, err
	}

	now := time.Now()
	e.LastAccess = now
	if err := c.indexPut(keyed.Hex(), now, int64(len(data))); err != nil {
		c.log.Warn("actioncache: last-access update failed", map[string]interface{}{"fingerprint": keyed.Hex(), "err": err.Error()})
	}
	return e, nil
}

type indexRecord struct {
	LastAccess int64
	Size       int64
}

func (c *Cache) indexPut(hex string, lastAccess time.Time, size int64) error {
	return c.idx.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(indexBucket))
		data := encodeIndexRecord(indexRecord{LastAccess: lastAccess.UnixNano(), Size: size})
		return b.Put([]byte(hex), data)
	})
}

func (c *Cache) indexDelete(hex string) {
	_ = c.idx.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(indexBucket)).Delete([]byte(hex))
	})
}

// maybeEvict runs LRU eviction when total indexed bytes exceed the cap,
// removing the oldest entries by last-access time in batches (§4.3: "oldest
// 10%" by default, configurable via EvictBatchPct).
func (c *Cache) maybeEvict() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	type rec struct {
		hex string
		indexRecord
	}
	var records []rec
	var total int64

	err := c.idx.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(indexBucket))
		return b.ForEach(func(k, v []byte) error {
			ir := decodeIndexRecord(v)
			records = append(records, rec{hex: string(k), indexRecord: ir})
			total += ir.Size
			return nil
		})
	})
	if err != nil {
		return ferr.New(ferr.KindIO, "actioncache.maybeEvict", "", err)
	}
	if total <= c.cfg.MaxBytes {
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].LastAccess < records[j].LastAccess })
	evictCount := int(float64(len(records)) * c.cfg.EvictBatchPct)
	if evictCount < 1 {
		evictCount = 1
	}
	if evictCount > len(records) {
		evictCount = len(records)
	}

	for _, r := range records[:evictCount] {
		path := filepath.Join(c.cfg.Root, "action-cache", r.hex[:2], r.hex+".entry")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn("actioncache: evict remove failed", map[string]interface{}{"fingerprint": r.hex, "err": err.Error()})
			continue
		}
		c.indexDelete(r.hex)
	}
	return nil
}
