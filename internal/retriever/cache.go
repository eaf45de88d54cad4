package retriever

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Cache is a project-scoped embedding cache, keyed by corpus doc id, so
// repeated runs against an unchanged corpus skip re-embedding (§2b/§4.3).
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the SQLite embedding cache at path.
func OpenCache(ctx context.Context, path string) (*Cache, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("retriever: opening embedding cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("retriever: pinging embedding cache: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		doc_id TEXT PRIMARY KEY,
		dim    INTEGER NOT NULL,
		vector BLOB NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("retriever: initializing embedding cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached vector for docID, or (nil, false) on a miss.
func (c *Cache) Get(ctx context.Context, docID string) ([]float32, bool, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE doc_id = ?`, docID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("retriever: reading cached embedding for %s: %w", docID, err)
	}
	vec, err := decodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Put stores a vector for docID, overwriting any existing entry.
func (c *Cache) Put(ctx context.Context, docID string, vector []float32) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO embeddings (doc_id, dim, vector) VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET dim = excluded.dim, vector = excluded.vector
	`, docID, len(vector), encodeVector(vector))
	if err != nil {
		return fmt.Errorf("retriever: caching embedding for %s: %w", docID, err)
	}
	return nil
}
