// Package cas implements C6: the remote content-addressed store. A Store
// persists blobs under a sharded hex-prefixed directory tree with
// atomic temp-file-then-rename writes (the same pattern as
// pkg/actioncache.Cache), optionally backed by an S3 durability tier
// grounded on storage/s3aws.go's uploader/downloader usage.
package cas

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	bolt "go.etcd.io/bbolt"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/forgelog"
	"github.com/forgecore/forgecore/pkg/hashing"
)

// RemoteTier is the optional off-box durability backend beneath the local
// sharded tree (storage/s3aws.go's Hetzner/MinIO/S3 upload/download
// functions, narrowed to the Put/Get shape the CAS needs).
type RemoteTier interface {
	Put(ctx context.Context, hex string, r io.Reader, size int64) error
	Get(ctx context.Context, hex string) (io.ReadCloser, error)
}

// S3Tier is a RemoteTier backed by an S3-compatible bucket, grounded on
// HetznerUploaderFile/MinioGetObject's use of manager.Uploader and an
// s3.Client.
type S3Tier struct {
	Client   *s3.Client
	Uploader *manager.Uploader
	Bucket   string
	Prefix   string
}

// S3TierConfig configures an S3-compatible endpoint (AWS S3, MinIO,
// Hetzner Object Storage, ...) the same way the teacher's Hetzner* /
// LakeFS* helpers build a static-credential client with a custom
// endpoint resolver, narrowed to what the CAS durability tier needs.
type S3TierConfig struct {
	URL, Region, AccessKey, SecretKey, Bucket, Prefix string
}

// NewS3Tier builds a RemoteTier backed by a static-credential S3 client
// resolved against a custom endpoint, mirroring storage/s3aws.go's
// config.LoadDefaultConfig + credentials.NewStaticCredentialsProvider
// pattern used across its Hetzner/LakeFS/MinIO helpers.
func NewS3Tier(ctx context.Context, cfg S3TierConfig) (*S3Tier, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.URL, SigningRegion: region, HostnameImmutable: true}, nil
			})),
	)
	if err != nil {
		return nil, ferr.New(ferr.KindConfig, "cas.NewS3Tier", cfg.Bucket, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true })
	return &S3Tier{
		Client:   client,
		Uploader: manager.NewUploader(client),
		Bucket:   cfg.Bucket,
		Prefix:   cfg.Prefix,
	}, nil
}

func (t *S3Tier) key(hex string) string {
	return filepath.ToSlash(filepath.Join(t.Prefix, hex[:2], hex))
}

func (t *S3Tier) Put(ctx context.Context, hex string, r io.Reader, size int64) error {
	_, err := t.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.Bucket),
		Key:    aws.String(t.key(hex)),
		Body:   r,
	})
	if err != nil {
		return ferr.New(ferr.KindNetwork, "cas.S3Tier.Put", hex, err)
	}
	return nil
}

func (t *S3Tier) Get(ctx context.Context, hex string) (io.ReadCloser, error) {
	out, err := t.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.Bucket),
		Key:    aws.String(t.key(hex)),
	})
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "cas.S3Tier.Get", hex, err)
	}
	return out.Body, nil
}

// blobIndexBucket names the bbolt bucket tracking last-access time and
// on-disk (possibly compressed) size per digest, the same LRU-index
// pattern pkg/actioncache.Cache uses over its entry tree.
const blobIndexBucket = "blobs"

// flagRaw/flagGzip prefix every shard with a one-byte format tag so Get
// can tell a transparently-compressed shard from a raw one without
// sniffing content.
const (
	flagRaw  byte = 0
	flagGzip byte = 1
)

// Store is the local sharded blob store, with an optional RemoteTier
// consulted on local miss and backfilled on local write. Stored shards may
// be transparently gzip-compressed (§4.6) when doing so strictly shrinks
// them; Get always returns the original, decompressed bytes. A bbolt index
// tracks last-access time so eviction (LRU by last-access, run on write
// when total bytes exceed MaxBytes) never has to stat the whole tree.
type Store struct {
	root     string
	remote   RemoteTier
	log      *forgelog.Logger
	maxBytes int64
	compress bool

	idx *bolt.DB
	mu  sync.Mutex // serializes eviction passes

	requests uint64
	hits     uint64
	misses   uint64
	bytesIn  uint64
	bytesOut uint64
}

// Config configures a Store.
type Config struct {
	Root     string
	Remote   RemoteTier // nil disables the durability tier
	MaxBytes int64      // eviction cap on local shard bytes; 0 disables eviction
	Compress bool       // transparently gzip shards that shrink under compression
}

func Open(cfg Config, log *forgelog.Logger) (*Store, error) {
	if log == nil {
		log = forgelog.Nop()
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, "cas"), 0o755); err != nil {
		return nil, ferr.New(ferr.KindIO, "cas.Open", cfg.Root, err)
	}
	db, err := bolt.Open(filepath.Join(cfg.Root, "cas-index.bolt"), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, ferr.New(ferr.KindIO, "cas.Open", cfg.Root, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(blobIndexBucket))
		return err
	})
	if err != nil {
		return nil, ferr.New(ferr.KindIO, "cas.Open", cfg.Root, err)
	}
	return &Store{root: cfg.Root, remote: cfg.Remote, log: log, maxBytes: cfg.MaxBytes, compress: cfg.Compress, idx: db}, nil
}

func (s *Store) Close() error { return s.idx.Close() }

func (s *Store) path(hex string) string {
	return filepath.Join(s.root, "cas", hex[:2], hex)
}

// encode applies transparent compression (§4.6: "server may transparently
// compress stored bytes when the compressed size is strictly smaller"),
// prefixing the shard with a one-byte format flag.
func encode(data []byte, compress bool) []byte {
	if !compress {
		return append([]byte{flagRaw}, data...)
	}
	var buf bytes.Buffer
	buf.WriteByte(flagGzip)
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	if buf.Len() >= len(data)+1 {
		return append([]byte{flagRaw}, data...)
	}
	return buf.Bytes()
}

// decode reverses encode, always returning the original bytes regardless
// of whether the shard was stored compressed.
func decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case flagRaw:
		return raw[1:], nil
	case flagGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw[1:]))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, ferr.ErrCorrupt
	}
}

// Put stores data under its BLAKE3 digest and returns it. Writes are
// content-addressed: a digest that already exists locally is a no-op,
// matching the action cache's put(k,v) idempotence.
func (s *Store) Put(ctx context.Context, data []byte) (hashing.Digest, error) {
	digest := hashing.Sum(data)
	hex := digest.Hex()
	path := s.path(hex)
	atomic.AddUint64(&s.requests, 1)

	if _, err := os.Stat(path); err == nil {
		s.touch(hex)
		return digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return digest, ferr.New(ferr.KindIO, "cas.Store.Put", hex, err)
	}
	onDisk := encode(data, s.compress)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, onDisk, 0o644); err != nil {
		return digest, ferr.New(ferr.KindIO, "cas.Store.Put", hex, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return digest, ferr.New(ferr.KindIO, "cas.Store.Put", hex, err)
	}
	atomic.AddUint64(&s.bytesIn, uint64(len(data)))
	s.indexPut(hex, time.Now(), int64(len(onDisk)))

	if s.maxBytes > 0 {
		if err := s.maybeEvict(); err != nil {
			s.log.Warn("cas: eviction pass failed, will retry on next write", map[string]interface{}{"err": err.Error()})
		}
	}

	if s.remote != nil {
		if err := s.remote.Put(ctx, hex, bytes.NewReader(data), int64(len(data))); err != nil {
			s.log.Warn("cas: remote tier backfill failed", map[string]interface{}{"digest": hex, "err": err.Error()})
		}
	}
	return digest, nil
}

// Get returns the blob for digest, falling through to the remote tier
// (and repopulating the local shard) on local miss.
func (s *Store) Get(ctx context.Context, digest hashing.Digest) ([]byte, error) {
	hex := digest.Hex()
	path := s.path(hex)
	atomic.AddUint64(&s.requests, 1)

	raw, err := os.ReadFile(path)
	if err == nil {
		data, derr := decode(raw)
		if derr != nil {
			// on-disk corruption: content doesn't survive round-trip decode;
			// treat as a miss and purge, per the action-cache corruption policy.
			os.Remove(path)
			s.indexDelete(hex)
			atomic.AddUint64(&s.misses, 1)
			return nil, ferr.New(ferr.KindCache, "cas.Store.Get", hex, ferr.ErrCorrupt)
		}
		s.touch(hex)
		atomic.AddUint64(&s.hits, 1)
		atomic.AddUint64(&s.bytesOut, uint64(len(data)))
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, ferr.New(ferr.KindIO, "cas.Store.Get", hex, err)
	}
	if s.remote == nil {
		atomic.AddUint64(&s.misses, 1)
		return nil, ferr.New(ferr.KindCache, "cas.Store.Get", hex, ferr.ErrNotFound).WithPromotable()
	}

	rc, rerr := s.remote.Get(ctx, hex)
	if rerr != nil {
		atomic.AddUint64(&s.misses, 1)
		return nil, ferr.New(ferr.KindCache, "cas.Store.Get", hex, ferr.ErrNotFound).WithPromotable()
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "cas.Store.Get", hex, err)
	}
	atomic.AddUint64(&s.hits, 1)
	atomic.AddUint64(&s.bytesOut, uint64(len(data)))

	if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr == nil {
		onDisk := encode(data, s.compress)
		if werr := os.WriteFile(path+".tmp", onDisk, 0o644); werr == nil {
			if renErr := os.Rename(path+".tmp", path); renErr == nil {
				s.indexPut(hex, time.Now(), int64(len(onDisk)))
			}
		}
	}
	return data, nil
}

// Has reports whether digest exists in the local shard without touching
// the remote tier.
func (s *Store) Has(digest hashing.Digest) bool {
	_, err := os.Stat(s.path(digest.Hex()))
	return err == nil
}

// Delete removes the local shard for digest; the remote tier (if any) is
// left untouched since other workspaces may still reference the blob.
func (s *Store) Delete(digest hashing.Digest) error {
	hex := digest.Hex()
	err := os.Remove(s.path(hex))
	if err != nil && !os.IsNotExist(err) {
		return ferr.New(ferr.KindIO, "cas.Store.Delete", hex, err)
	}
	s.indexDelete(hex)
	return nil
}

// Stats summarizes the counters exposed on /health and /metrics (§4.6/§6.1).
type Stats struct {
	Requests, Hits, Misses, BytesIn, BytesOut uint64
	UsedBytes, TotalBytes                     int64
}

// Stats returns a snapshot of the store's request/hit/byte counters plus
// local used/total capacity (§4.6 "/health: JSON with uptime, storage
// used/total, hit counters").
func (s *Store) Stats() Stats {
	return Stats{
		Requests:   atomic.LoadUint64(&s.requests),
		Hits:       atomic.LoadUint64(&s.hits),
		Misses:     atomic.LoadUint64(&s.misses),
		BytesIn:    atomic.LoadUint64(&s.bytesIn),
		BytesOut:   atomic.LoadUint64(&s.bytesOut),
		UsedBytes:  s.usedBytes(),
		TotalBytes: s.maxBytes,
	}
}

func (s *Store) usedBytes() int64 {
	var total int64
	_ = s.idx.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(blobIndexBucket)).ForEach(func(_, v []byte) error {
			total += decodeBlobRecord(v).Size
			return nil
		})
	})
	return total
}

type blobRecord struct {
	LastAccess int64
	Size       int64
}

func encodeBlobRecord(r blobRecord) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.LastAccess))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Size))
	return buf
}

func decodeBlobRecord(b []byte) blobRecord {
	if len(b) < 16 {
		return blobRecord{}
	}
	return blobRecord{
		LastAccess: int64(binary.LittleEndian.Uint64(b[0:8])),
		Size:       int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func (s *Store) indexPut(hex string, lastAccess time.Time, size int64) {
	err := s.idx.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(blobIndexBucket)).Put([]byte(hex), encodeBlobRecord(blobRecord{LastAccess: lastAccess.UnixNano(), Size: size}))
	})
	if err != nil {
		s.log.Warn("cas: index update failed", map[string]interface{}{"digest": hex, "err": err.Error()})
	}
}

func (s *Store) indexDelete(hex string) {
	_ = s.idx.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(blobIndexBucket)).Delete([]byte(hex))
	})
}

// touch refreshes a shard's last-access time without rewriting its size,
// for the LRU clock on a cache hit.
func (s *Store) touch(hex string) {
	var size int64
	_ = s.idx.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(blobIndexBucket)).Get([]byte(hex)); v != nil {
			size = decodeBlobRecord(v).Size
		}
		return nil
	})
	s.indexPut(hex, time.Now(), size)
}

// maybeEvict runs LRU eviction when total indexed bytes exceed maxBytes,
// removing the oldest 10% of shards by last-access time (§4.6 eviction).
func (s *Store) maybeEvict() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type rec struct {
		hex string
		blobRecord
	}
	var records []rec
	var total int64
	err := s.idx.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(blobIndexBucket)).ForEach(func(k, v []byte) error {
			br := decodeBlobRecord(v)
			records = append(records, rec{hex: string(k), blobRecord: br})
			total += br.Size
			return nil
		})
	})
	if err != nil {
		return ferr.New(ferr.KindIO, "cas.Store.maybeEvict", "", err)
	}
	if total <= s.maxBytes {
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].LastAccess < records[j].LastAccess })
	evictCount := len(records) / 10
	if evictCount < 1 {
		evictCount = 1
	}
	for _, r := range records[:evictCount] {
		if err := os.Remove(s.path(r.hex)); err != nil && !os.IsNotExist(err) {
			s.log.Warn("cas: evict remove failed", map[string]interface{}{"digest": r.hex, "err": err.Error()})
			continue
		}
		s.indexDelete(r.hex)
	}
	return nil
}
