package image

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Cache is the on-disk package cache: a SQLite database mapping the
// SHA-256 of a package source file to its binary wire form, so a
// repeat load of an unchanged file skips the parser.
type Cache struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenCache opens (creating if needed) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening package cache: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash       TEXT PRIMARY KEY,
		id         TEXT NOT NULL,
		data       BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating images table: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached wire form for a source hash, if present.
func (c *Cache) Get(hash [32]byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow(
		"SELECT data FROM images WHERE hash = ?",
		hex.EncodeToString(hash[:]),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading package cache: %w", err)
	}
	return data, true, nil
}

// Put stores the wire form for a source hash, replacing any previous
// entry.
func (c *Cache) Put(hash [32]byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO images (hash, id, data, created_at) VALUES (?, ?, ?, ?)",
		hex.EncodeToString(hash[:]), uuid.NewString(), data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing package cache: %w", err)
	}
	return nil
}
