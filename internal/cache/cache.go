// Package cache is a content-addressed store of compiled images, keyed by
// the SHA-256 of their source text, backed by modernc.org/sqlite. It is
// pure speedup: a hit skips recompiling identical source, a miss compiles
// and stores. It never changes what compile/run return.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Cache wraps a single sqlite database of compiled images.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS images (
	source_hash  TEXT NOT NULL,
	protected    INTEGER NOT NULL,
	hex          TEXT NOT NULL,
	created_unix INTEGER NOT NULL,
	PRIMARY KEY (source_hash, protected)
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// SourceHash returns the cache key for a source text.
func SourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached hex image for source, if one was stored under
// the requested protection mode.
func (c *Cache) Lookup(source string, protected bool) (hexImage string, ok bool, err error) {
	key := SourceHash(source)
	row := c.db.QueryRow(`SELECT hex FROM images WHERE source_hash = ? AND protected = ?`, key, boolInt(protected))
	var hex string
	switch err := row.Scan(&hex); err {
	case nil:
		return hex, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("querying cache: %w", err)
	}
}

// Store records a compiled hex image for source under the given
// protection mode, stamped with the provided unix timestamp.
func (c *Cache) Store(source string, protected bool, hexImage string, nowUnix int64) error {
	key := SourceHash(source)
	_, err := c.db.Exec(
		`INSERT INTO images (source_hash, protected, hex, created_unix) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_hash, protected) DO UPDATE SET hex = excluded.hex, created_unix = excluded.created_unix`,
		key, boolInt(protected), hexImage, nowUnix,
	)
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// Now is the single place nowUnix is derived from wall-clock time, kept
// out of Store so tests can stamp deterministic timestamps instead.
func Now() int64 { return time.Now().Unix() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
