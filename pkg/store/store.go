// Package store implements the durable registry of tracked servers on
// SQLite. The registry is the single source of truth for what is tracked;
// all mutations are serialized through a store-level mutex on top of
// SQLite's own locking, so a scheduler cycle and a user command racing on
// the same record cannot produce a lost update.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/whoson/whoson/pkg/faults"
	"github.com/whoson/whoson/pkg/probe"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const targetColumns = `scope_id, target_key, address, display_name, protocol_kind,
	       status_channel_id, detail_channel_id, detail_message_id, created_at, updated_at`

// Store is the SQLite-backed registry.
type Store struct {
	db   *sql.DB
	path string

	// mu serializes all mutating operations (single-writer discipline).
	mu sync.Mutex
}

// NewStore creates a new registry instance. Call Init and Migrate before use.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations. The migrate tool's schema_migrations
// table doubles as the schema-version marker record.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Add inserts a new tracked target. A (scope, key) collision returns a
// DuplicateKey fault and leaves the registry unmodified.
func (s *Store) Add(ctx context.Context, t *Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
		INSERT INTO tracked_servers (` + targetColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ScopeID,
		t.Key,
		t.Address,
		nullable(t.DisplayName),
		string(t.Kind),
		t.StatusChannelID,
		t.DetailChannelID,
		t.DetailMessageID,
		t.CreatedAt,
		t.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return faults.DuplicateKey(
				fmt.Sprintf("target %s already tracked in scope %s", t.Key, t.ScopeID), err)
		}
		return fmt.Errorf("failed to add target: %w", err)
	}

	return nil
}

// Remove deletes a tracked target. It reports whether a record was deleted.
func (s *Store) Remove(ctx context.Context, scopeID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM tracked_servers WHERE scope_id = ? AND target_key = ?",
		scopeID, key)
	if err != nil {
		return false, fmt.Errorf("failed to remove target: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// Get retrieves one tracked target. A missing record returns a NotFound
// fault.
func (s *Store) Get(ctx context.Context, scopeID, key string) (*Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM tracked_servers
		WHERE scope_id = ? AND target_key = ?
	`

	t, err := scanTarget(s.db.QueryRowContext(ctx, query, scopeID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound(
			fmt.Sprintf("target %s not tracked in scope %s", key, scopeID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	return t, nil
}

// ListByScope returns every tracked target in one scope keyed by target key.
func (s *Store) ListByScope(ctx context.Context, scopeID string) (map[string]*Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM tracked_servers
		WHERE scope_id = ?
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	targets := map[string]*Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets[t.Key] = t
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}

	return targets, nil
}

// ListAll returns every tracked target grouped by scope. The scheduler
// snapshots this at the top of each cycle.
func (s *Store) ListAll(ctx context.Context) (map[string]map[string]*Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM tracked_servers
		ORDER BY scope_id, created_at
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	scopes := map[string]map[string]*Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		if scopes[t.ScopeID] == nil {
			scopes[t.ScopeID] = map[string]*Target{}
		}
		scopes[t.ScopeID][t.Key] = t
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}

	return scopes, nil
}

// UpdateDetailMessageRef rewrites the detail message reference after the
// reconciler recreates a deleted status message. It reports whether the
// record still existed.
func (s *Store) UpdateDetailMessageRef(ctx context.Context, scopeID, key, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE tracked_servers
		SET detail_message_id = ?, updated_at = ?
		WHERE scope_id = ? AND target_key = ?
	`, messageID, time.Now().UTC(), scopeID, key)
	if err != nil {
		return false, fmt.Errorf("failed to update detail message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// RemoveScope deletes every target in a scope and returns the count. Used
// when the bot is removed from a guild or on explicit cleanup.
func (s *Store) RemoveScope(ctx context.Context, scopeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM tracked_servers WHERE scope_id = ?", scopeID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove scope: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// PruneOrphanedScopes deletes every target whose scope is not in the valid
// set and returns the count. Used at startup when the bot's guild set
// changed while it was offline.
func (s *Store) PruneOrphanedScopes(ctx context.Context, validScopeIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(validScopeIDs) == 0 {
		result, err := s.db.ExecContext(ctx, "DELETE FROM tracked_servers")
		if err != nil {
			return 0, fmt.Errorf("failed to prune scopes: %w", err)
		}
		return result.RowsAffected()
	}

	placeholders := strings.Repeat("?,", len(validScopeIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(validScopeIDs))
	for i, id := range validScopeIDs {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM tracked_servers WHERE scope_id NOT IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune scopes: %w", err)
	}

	return result.RowsAffected()
}

// Stats returns registry-wide counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByKind: map[probe.Kind]int{}}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tracked_servers").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count targets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT protocol_kind, COUNT(*) FROM tracked_servers GROUP BY protocol_kind")
	if err != nil {
		return nil, fmt.Errorf("failed to count by kind: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		stats.ByKind[probe.Kind(kind)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kind counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT scope_id) FROM tracked_servers").Scan(&stats.Scopes); err != nil {
		return nil, fmt.Errorf("failed to count scopes: %w", err)
	}

	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row scanner) (*Target, error) {
	t := &Target{}
	var displayName sql.NullString
	var kind string

	err := row.Scan(
		&t.ScopeID,
		&t.Key,
		&t.Address,
		&displayName,
		&kind,
		&t.StatusChannelID,
		&t.DetailChannelID,
		&t.DetailMessageID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.DisplayName = displayName.String
	t.Kind = probe.Kind(kind)
	return t, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlitelib.SQLITE_CONSTRAINT
	}
	return false
}
