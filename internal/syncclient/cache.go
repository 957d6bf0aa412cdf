package syncclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z_]{0,31}$`)

// Cache is the local copy of what the client last fetched. Each collection
// is its own table of JSON documents keyed by id. Scope groups rows inside
// a collection, such as the messages of one conversation.
type Cache struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	// One writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return &Cache{db: db, tables: make(map[string]bool)}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) ensure(ctx context.Context, collection string) error {
	if !collectionName.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tables[collection] {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + collection + ` (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL DEFAULT '',
			body BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + collection + `_scope ON ` + collection + ` (scope)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create cache table %s: %w", collection, err)
		}
	}
	c.tables[collection] = true
	return nil
}

// Entry is one cached document.
type Entry struct {
	ID   string
	Body json.RawMessage
}

// List returns every document in scope, most recently written first. An
// empty scope means the whole collection.
func (c *Cache) List(ctx context.Context, collection, scope string) ([]Entry, error) {
	if err := c.ensure(ctx, collection); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, body FROM `+collection+`
		 WHERE ? = '' OR scope = ?
		 ORDER BY updated_at DESC, id`,
		scope, scope,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var body []byte
		if err := rows.Scan(&e.ID, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		e.Body = body
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns nil when id is not cached.
func (c *Cache) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := c.ensure(ctx, collection); err != nil {
		return nil, err
	}
	var body []byte
	err := c.db.QueryRowContext(ctx, `SELECT body FROM `+collection+` WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", collection, id, err)
	}
	return body, nil
}

// Put inserts or replaces one document.
func (c *Cache) Put(ctx context.Context, collection, scope string, e Entry) error {
	return c.PutAll(ctx, collection, scope, []Entry{e})
}

// PutAll inserts or replaces every entry in one transaction. Rows not in
// entries are left alone. Within one call, List returns entries in the
// order they were given.
func (c *Cache) PutAll(ctx context.Context, collection, scope string, entries []Entry) error {
	if err := c.ensure(ctx, collection); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+collection+` (id, scope, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET scope = excluded.scope, body = excluded.body, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return fmt.Errorf("prepare put %s: %w", collection, err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, scope, []byte(e.Body), now-int64(i)); err != nil {
			return fmt.Errorf("put %s %s: %w", collection, e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, collection, id string) error {
	if err := c.ensure(ctx, collection); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM `+collection+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", collection, id, err)
	}
	return nil
}
