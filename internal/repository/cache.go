package repository

import (
	"context"
	"database/sql"
	"sync"
)

// PreparedStatementCache keeps one prepared statement per query text. The
// device lookups behind every connection check go through it.
type PreparedStatementCache struct {
	mu         sync.RWMutex
	statements map[string]*sql.Stmt
	db         *sql.DB
}

func NewPreparedStatementCache(db *sql.DB) *PreparedStatementCache {
	return &PreparedStatementCache{
		statements: make(map[string]*sql.Stmt),
		db:         db,
	}
}

// Get returns the cached statement for query, preparing it on first use.
func (c *PreparedStatementCache) Get(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.RLock()
	stmt, ok := c.statements[query]
	c.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have prepared it while we waited
	if stmt, ok := c.statements[query]; ok {
		return stmt, nil
	}

	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.statements[query] = stmt
	return stmt, nil
}

// Close closes every cached statement and empties the cache. The first
// close error is returned.
func (c *PreparedStatementCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for query, stmt := range c.statements {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.statements, query)
	}
	return firstErr
}

// Clear drops the statement for query, if cached.
func (c *PreparedStatementCache) Clear(query string) error {
	c.mu.Lock()
	stmt, ok := c.statements[query]
	delete(c.statements, query)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return stmt.Close()
}

func (c *PreparedStatementCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statements)
}
