// Package sqlite is an IndexedStorage backend on a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/oplog/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on (namespace, key) for key scans
const currentSchemaVersion = 1

// Storage stores every stream in one WITHOUT ROWID table.
type Storage struct {
	db *sql.DB
}

var _ storage.IndexedStorage = (*Storage)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Pass ":memory:" for a private in-memory database.
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases alive for the lifetime of the Storage.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) NumberOfReplicas() uint8 { return 1 }

// WaitForReplicas succeeds immediately: a committed SQLite transaction is as
// replicated as it will ever be.
func (s *Storage) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (uint8, error) {
	return 1, nil
}

func (s *Storage) Exists(ctx context.Context, ns storage.Namespace, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM index_storage WHERE namespace = ? AND key = ?)
	`, ns.String(), key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", ns, key, err)
	}
	return exists, nil
}

func (s *Storage) Scan(ctx context.Context, ns storage.Namespace, pattern string, cursor, count uint64) (uint64, []string, error) {
	if count == 0 {
		count = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT key FROM index_storage
		WHERE namespace = ? AND key GLOB ?
		ORDER BY key
		LIMIT ? OFFSET ?
	`, ns.String(), toGlob(pattern), count, cursor)
	if err != nil {
		return 0, nil, fmt.Errorf("scan %s: %w", ns, err)
	}
	defer rows.Close()

	keys := make([]string, 0, count)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return 0, nil, fmt.Errorf("scan %s: %w", ns, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("scan %s: %w", ns, err)
	}

	if uint64(len(keys)) < count {
		return 0, keys, nil
	}
	return cursor + uint64(len(keys)), keys, nil
}

// Append inserts only when no entry at or after id exists, so a conflicting
// append affects zero rows instead of overwriting.
func (s *Storage) Append(ctx context.Context, ns storage.Namespace, key string, id uint64, value []byte) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO index_storage (namespace, key, id, value)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM index_storage WHERE namespace = ? AND key = ? AND id >= ?
		)
	`, ns.String(), key, id, value, ns.String(), key, id)
	if err != nil {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, err)
	}
	if n == 0 {
		return fmt.Errorf("append %s/%s@%d: %w", ns, key, id, storage.ErrAppendConflict)
	}
	return nil
}

func (s *Storage) Length(ctx context.Context, ns storage.Namespace, key string) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM index_storage WHERE namespace = ? AND key = ?
	`, ns.String(), key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("length %s/%s: %w", ns, key, err)
	}
	return n, nil
}

func (s *Storage) Delete(ctx context.Context, ns storage.Namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM index_storage WHERE namespace = ? AND key = ?
	`, ns.String(), key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Storage) Read(ctx context.Context, ns storage.Namespace, key string, startID, endID uint64) ([]storage.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, value FROM index_storage
		WHERE namespace = ? AND key = ? AND id >= ? AND id <= ?
		ORDER BY id ASC
	`, ns.String(), key, startID, endID)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
	}
	defer rows.Close()

	result := make([]storage.Entry, 0)
	for rows.Next() {
		var e storage.Entry
		if err := rows.Scan(&e.ID, &e.Value); err != nil {
			return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
	}
	return result, nil
}

func (s *Storage) First(ctx context.Context, ns storage.Namespace, key string) (storage.Entry, bool, error) {
	return s.queryOne(ctx, "first", `
		SELECT id, value FROM index_storage
		WHERE namespace = ? AND key = ?
		ORDER BY id ASC LIMIT 1
	`, ns, key)
}

func (s *Storage) Last(ctx context.Context, ns storage.Namespace, key string) (storage.Entry, bool, error) {
	return s.queryOne(ctx, "last", `
		SELECT id, value FROM index_storage
		WHERE namespace = ? AND key = ?
		ORDER BY id DESC LIMIT 1
	`, ns, key)
}

func (s *Storage) Closest(ctx context.Context, ns storage.Namespace, key string, id uint64) (storage.Entry, bool, error) {
	return s.queryOne(ctx, "closest", `
		SELECT id, value FROM index_storage
		WHERE namespace = ? AND key = ? AND id >= ?
		ORDER BY id ASC LIMIT 1
	`, ns, key, id)
}

func (s *Storage) DropPrefix(ctx context.Context, ns storage.Namespace, key string, lastDroppedID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM index_storage WHERE namespace = ? AND key = ? AND id <= ?
	`, ns.String(), key, lastDroppedID)
	if err != nil {
		return fmt.Errorf("drop prefix %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Storage) queryOne(ctx context.Context, op, query string, ns storage.Namespace, key string, extra ...any) (storage.Entry, bool, error) {
	args := append([]any{ns.String(), key}, extra...)
	var e storage.Entry
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Entry{}, false, nil
	}
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("%s %s/%s: %w", op, ns, key, err)
	}
	return e, true, nil
}

// toGlob converts a scan pattern into a GLOB expression, escaping GLOB
// metacharacters that appear literally in the key.
func toGlob(pattern string) string {
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	if wildcard {
		b.WriteByte('*')
	}
	return b.String()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the key index used by Scan.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_index_storage_namespace_key
		ON index_storage(namespace, key)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// schemaVersion reports the applied user_version. Used for testing.
func (s *Storage) schemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Storage) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
