package sqlite

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/polycraft/pkg/models"
)

// Cache is a durable result store backed by SQLite. It follows the same
// contract as the in-memory cache: per-entry expiry, lazy deletion on read,
// no capacity bound. Results are gob-encoded so metadata keeps its Go types
// and a hit equals the result that filled it.
type Cache struct {
	db     *sql.DB
	now    func() time.Time
	logger *log.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS result_cache (
	cache_key TEXT PRIMARY KEY,
	result BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
`

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for write failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New opens (or creates) the cache database at dbPath.
func New(dbPath string, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{db: db, now: time.Now, logger: log.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached result for key. An expired row is deleted before
// reporting a miss.
func (c *Cache) Get(key string) (models.Result, bool) {
	var data []byte
	var expiresAt int64

	err := c.db.QueryRow(
		`SELECT result, expires_at FROM result_cache WHERE cache_key = ?`, key,
	).Scan(&data, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Error("cache read failed", "key", key, "err", err)
		}
		c.misses.Add(1)
		return models.Result{}, false
	}

	if expiresAt > 0 && c.now().UnixMilli() > expiresAt {
		c.deleteRow(key, expiresAt)
		c.misses.Add(1)
		return models.Result{}, false
	}

	var r models.Result
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		c.logger.Error("cache entry corrupt, dropping", "key", key, "err", err)
		c.deleteRow(key, expiresAt)
		c.misses.Add(1)
		return models.Result{}, false
	}

	c.hits.Add(1)
	return r, true
}

// Set stores r under key, replacing any existing row. A ttl <= 0 stores
// the row without expiry. Write failures are logged, not returned; a lost
// cache write only costs a later miss.
func (c *Cache) Set(key string, r models.Result, ttl time.Duration) {
	if err := c.Put(key, r, ttl); err != nil {
		c.logger.Error("cache write failed", "key", key, "err", err)
	}
}

// Put is Set with the error returned.
func (c *Cache) Put(key string, r models.Result, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	now := c.now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}

	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO result_cache (cache_key, result, created_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		key, buf.Bytes(), now.UnixMilli(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes key. It is a no-op when the key is absent.
func (c *Cache) Delete(key string) {
	if _, err := c.db.Exec(`DELETE FROM result_cache WHERE cache_key = ?`, key); err != nil {
		c.logger.Error("cache delete failed", "key", key, "err", err)
	}
}

// deleteRow removes key only if its row still has the expiry that was read,
// so a concurrent Set of a fresh row survives.
func (c *Cache) deleteRow(key string, expiresAt int64) {
	if _, err := c.db.Exec(
		`DELETE FROM result_cache WHERE cache_key = ? AND expires_at = ?`, key, expiresAt,
	); err != nil {
		c.logger.Error("cache delete failed", "key", key, "err", err)
	}
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM result_cache`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Backend: "sqlite",
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) (int64, error) {
	var res sql.Result
	var err error
	if expiredOnly {
		res, err = c.db.Exec(
			`DELETE FROM result_cache WHERE expires_at > 0 AND expires_at < ?`,
			c.now().UnixMilli(),
		)
	} else {
		res, err = c.db.Exec(`DELETE FROM result_cache`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
