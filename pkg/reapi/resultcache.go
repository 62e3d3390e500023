package reapi

import (
	"context"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/hashing"
)

// ResultCache persists ActionResult entries in CouchDB, keyed by action
// digest hex, the way db/couchdb.go's CouchDBService persists generic
// documents: Get/Put against a single kivik.DB handle, with 404 surfaced
// as a typed not-found rather than a bare kivik error.
type ResultCache struct {
	client *kivik.Client
	db     *kivik.DB
}

// resultDoc is the CouchDB document shape for one cached ActionResult.
type resultDoc struct {
	ID           string            `json:"_id"`
	Rev          string            `json:"_rev,omitempty"`
	ActionHash   string            `json:"action_hash"`
	ExitCode     int32             `json:"exit_code"`
	OutputFiles  []OutputSpec      `json:"output_files"`
	OutputHashes map[string]string `json:"output_hashes"`
	Stdout       string            `json:"stdout_hash"`
	Stderr       string            `json:"stderr_hash"`
}

// NewResultCache connects to CouchDB at url and ensures dbName exists,
// mirroring NewCouchDBService's database-exists-or-create flow
// (db/couchdb.go).
func NewResultCache(ctx context.Context, url, dbName string) (*ResultCache, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "reapi.NewResultCache", url, err)
	}

	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "reapi.NewResultCache", dbName, err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, ferr.New(ferr.KindNetwork, "reapi.NewResultCache", dbName, err)
		}
	}

	return &ResultCache{client: client, db: client.DB(dbName)}, nil
}

// Put stores result keyed by its action digest; a stale revision from a
// concurrent writer surfaces as a NetworkError for the caller to retry.
func (c *ResultCache) Put(ctx context.Context, result *ActionResult) error {
	doc := toResultDoc(result)

	existing := c.db.Get(ctx, doc.ID)
	if existing.Err() == nil {
		var prior resultDoc
		if err := existing.ScanDoc(&prior); err == nil {
			doc.Rev = prior.Rev
		}
	}

	if _, err := c.db.Put(ctx, doc.ID, doc); err != nil {
		return ferr.New(ferr.KindNetwork, "reapi.ResultCache.Put", doc.ID, err).WithRetry()
	}
	return nil
}

// Get retrieves the cached ActionResult for digest, returning a
// promotable CacheError miss on 404 exactly as db/couchdb.go's
// GetGenericDocument does for an unknown document.
func (c *ResultCache) Get(ctx context.Context, digest Digest) (*ActionResult, error) {
	row := c.db.Get(ctx, digest.Hash)
	if row.Err() != nil {
		if kivik.HTTPStatus(row.Err()) == 404 {
			return nil, ferr.New(ferr.KindCache, "reapi.ResultCache.Get", digest.Hash, ferr.ErrNotFound).WithPromotable()
		}
		return nil, ferr.New(ferr.KindNetwork, "reapi.ResultCache.Get", digest.Hash, row.Err())
	}

	var doc resultDoc
	if err := row.ScanDoc(&doc); err != nil {
		return nil, ferr.New(ferr.KindCache, "reapi.ResultCache.Get", digest.Hash, err)
	}
	return fromResultDoc(&doc)
}

func toResultDoc(r *ActionResult) *resultDoc {
	hashes := make(map[string]string, len(r.OutputHashes))
	for path, d := range r.OutputHashes {
		hashes[path] = d.Hex()
	}
	return &resultDoc{
		ID:           r.ActionDigest.Hash,
		ActionHash:   r.ActionDigest.Hash,
		ExitCode:     r.ExitCode,
		OutputFiles:  r.OutputFiles,
		OutputHashes: hashes,
		Stdout:       r.Stdout.Hex(),
		Stderr:       r.Stderr.Hex(),
	}
}

func fromResultDoc(doc *resultDoc) (*ActionResult, error) {
	hashes := make(map[string]hashing.Digest, len(doc.OutputHashes))
	for path, hex := range doc.OutputHashes {
		d, err := parseHex(hex)
		if err != nil {
			return nil, fmt.Errorf("output hash for %s: %w", path, err)
		}
		hashes[path] = d
	}
	stdout, err := parseHex(doc.Stdout)
	if err != nil {
		return nil, err
	}
	stderr, err := parseHex(doc.Stderr)
	if err != nil {
		return nil, err
	}
	return &ActionResult{
		ActionDigest: Digest{Hash: doc.ActionHash},
		ExitCode:     doc.ExitCode,
		OutputFiles:  doc.OutputFiles,
		OutputHashes: hashes,
		Stdout:       stdout,
		Stderr:       stderr,
	}, nil
}
