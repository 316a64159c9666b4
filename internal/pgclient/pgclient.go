package pgclient

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Client wraps a PostgreSQL connection. The orchestrator uses it to verify
// the cluster is accepting connections before triggering a full database
// backup; a backup kicked off against a down cluster fails late and
// confusingly, a ping fails fast.
type Client struct {
	db *sql.DB
}

// NewClient creates a new PostgreSQL client
func NewClient(connectionString string) (*Client, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping tests the database connection with a short deadline
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.db.PingContext(pingCtx)
}

// GetVersion retrieves the PostgreSQL version string
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var version string
	query := "SHOW server_version"
	if err := c.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query PostgreSQL version: %w", err)
	}
	return version, nil
}

// InRecovery reports whether the cluster is still replaying WAL. A full
// backup against a cluster in recovery would fail once it actually starts.
func (c *Client) InRecovery(ctx context.Context) (bool, error) {
	var inRecovery bool
	query := "SELECT pg_is_in_recovery()"
	if err := c.db.QueryRowContext(ctx, query).Scan(&inRecovery); err != nil {
		return false, fmt.Errorf("failed to query recovery state: %w", err)
	}
	return inRecovery, nil
}
