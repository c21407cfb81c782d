package registry

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

// Default cache lifetimes.
const (
	DefaultPositiveTTL = 24 * time.Hour
	DefaultNegativeTTL = time.Hour
)

// Cache remembers lookups in a SQLite database. Any cache failure falls back
// to the wrapped Lookuper.
type Cache struct {
	next        Lookuper
	conn        *sql.DB
	positiveTTL time.Duration
	negativeTTL time.Duration
	now         func() time.Time
	logger      *log.Logger
}

// CacheOptions configures OpenCache.
type CacheOptions struct {
	PositiveTTL time.Duration
	NegativeTTL time.Duration
	Logger      *log.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// OpenCache opens or creates the cache database at path and wraps next.
func OpenCache(path string, next Lookuper, opts CacheOptions) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening registry cache: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS lookups (
			name TEXT PRIMARY KEY,
			found INTEGER NOT NULL,
			canonical TEXT NOT NULL DEFAULT '',
			checked_at INTEGER NOT NULL
		);
	`
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initializing registry cache schema: %w", err)
	}

	if opts.PositiveTTL <= 0 {
		opts.PositiveTTL = DefaultPositiveTTL
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = DefaultNegativeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Cache{
		next:        next,
		conn:        conn,
		positiveTTL: opts.PositiveTTL,
		negativeTTL: opts.NegativeTTL,
		now:         opts.Now,
		logger:      logger,
	}, nil
}

// Exists answers from the cache when a fresh entry exists, otherwise asks the
// wrapped Lookuper and stores the answer. Errors are never cached.
func (c *Cache) Exists(ctx context.Context, name string) (string, bool, error) {
	if canonical, found, hit := c.get(ctx, name); hit {
		return canonical, found, nil
	}
	canonical, found, err := c.next.Exists(ctx, name)
	if err != nil {
		return "", false, err
	}
	c.put(ctx, name, canonical, found)
	return canonical, found, nil
}

func (c *Cache) get(ctx context.Context, name string) (string, bool, bool) {
	var (
		found     int
		canonical string
		checkedAt int64
	)
	err := c.conn.QueryRowContext(ctx,
		`SELECT found, canonical, checked_at FROM lookups WHERE name = ?`, name,
	).Scan(&found, &canonical, &checkedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Debug("registry cache read failed", "name", name, "err", err)
		}
		return "", false, false
	}

	ttl := c.negativeTTL
	if found == 1 {
		ttl = c.positiveTTL
	}
	if c.now().Sub(time.Unix(checkedAt, 0)) >= ttl {
		return "", false, false
	}
	return canonical, found == 1, true
}

func (c *Cache) put(ctx context.Context, name, canonical string, found bool) {
	f := 0
	if found {
		f = 1
	}
	_, err := c.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO lookups (name, found, canonical, checked_at) VALUES (?, ?, ?, ?)`,
		name, f, canonical, c.now().Unix(),
	)
	if err != nil {
		c.logger.Debug("registry cache write failed", "name", name, "err", err)
	}
}

// Close closes the database.
func (c *Cache) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
