// Package warmstore implements Almanac's warm relational store (spec.md
// §4.E): indexed events/blocks/schema tables over Postgres. The connection
// pooling, functional-option logger, and embed.FS migration runner are
// grounded on and adapted from the teacher's pkg/database/client.go; the
// repository-per-entity pattern is grounded on
// pkg/database/repository_request.go.
package warmstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB with migration support and per-entity
// repositories.
type Client struct {
	db     *sql.DB
	logger *log.Logger

	Events    *EventRepository
	Blocks    *BlockRepository
	Schemas   *SchemaRepository
	SyncState *SyncStateRepository
}

// Option is a functional option for configuring the Client, matching the
// teacher's ClientOption/WithLogger pattern.
type Option func(*Client)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient opens a pooled connection to databaseURL and verifies it with a
// ping before returning.
func NewClient(databaseURL string, opts ...Option) (*Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("warmstore: database URL cannot be empty")
	}

	c := &Client{logger: log.New(log.Writer(), "[WarmStore] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("warmstore: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("warmstore: ping: %w", err)
	}

	c.db = db
	c.Events = &EventRepository{db: db}
	c.Blocks = &BlockRepository{db: db}
	c.Schemas = &SchemaRepository{db: db}
	c.SyncState = &SyncStateRepository{db: db}

	c.logger.Printf("connected to warm store")
	return c, nil
}

// DB exposes the underlying *sql.DB for transactional composition between
// repositories (e.g. StoreEventTx with UpsertBlockTx inside a single
// transaction). The synchronizer does not open such transactions.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the pooled connection.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Migration is a single discovered migration file.
type Migration struct {
	Version string
	SQL     string
}

func (c *Client) getMigrations() ([]Migration, error) {
	var out []Migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, Migration{Version: strings.TrimSuffix(d.Name(), ".sql"), SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (c *Client) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// MigrateUp applies all pending migrations in lexical order, inside
// transactions, tracked via the schema_migrations table (idempotent).
func (c *Client) MigrateUp(ctx context.Context) error {
	migrations, err := c.getMigrations()
	if err != nil {
		return fmt.Errorf("warmstore: list migrations: %w", err)
	}

	applied, err := c.getAppliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("warmstore: list applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		c.logger.Printf("applying migration %s", m.Version)
		if err := c.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("warmstore: apply %s: %w", m.Version, err)
		}
	}
	return nil
}

// MigrationInfo reports one discovered migration's applied state, for the
// `almanac migrate --list` subcommand.
type MigrationInfo struct {
	Version string
	Applied bool
}

// ListMigrations reports every discovered migration and whether it has
// been applied.
func (c *Client) ListMigrations(ctx context.Context) ([]MigrationInfo, error) {
	migrations, err := c.getMigrations()
	if err != nil {
		return nil, fmt.Errorf("warmstore: list migrations: %w", err)
	}
	applied, err := c.getAppliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return nil, fmt.Errorf("warmstore: list applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	out := make([]MigrationInfo, len(migrations))
	for i, m := range migrations {
		out[i] = MigrationInfo{Version: m.Version, Applied: applied[m.Version]}
	}
	return out, nil
}

// Rollback un-marks version as applied, so the next MigrateUp re-runs its
// SQL. There are no down-migration scripts in this schema (every migration
// here is additive), so rollback does not reverse DDL; it only clears the
// tracking row for an operator who wants to force a migration to re-apply.
func (c *Client) Rollback(ctx context.Context, version string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", version)
	if err != nil {
		return fmt.Errorf("warmstore: rollback %s: %w", version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("warmstore: rollback %s: %w", version, err)
	}
	if n == 0 {
		return fmt.Errorf("warmstore: rollback %s: migration not recorded as applied", version)
	}
	return nil
}

func (c *Client) applyMigration(ctx context.Context, m Migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return tx.Commit()
}
