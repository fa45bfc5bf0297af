package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteListBackend stores every list in one table ordered by an
// auto-increment sequence column.
type SQLiteListBackend struct {
	db *sql.DB
}

var _ ListBackend = &SQLiteListBackend{}
var _ KeyScanner = &SQLiteListBackend{}

// NewSQLiteListBackend opens dsn, verifies the connection and migrates the
// schema. The database handle is closed again if any of those steps fail.
func NewSQLiteListBackend(ctx context.Context, dsn string) (*SQLiteListBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.Wrap(ErrMissingConnectionInfo, "sqlite list backend: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite list backend: open")
	}
	// A single connection keeps in-memory DSNs coherent and serializes writers.
	db.SetMaxOpenConns(1)
	s := &SQLiteListBackend{db: db}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, backendError("sqlite list backend: ping", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteListDSNForFile builds the DSN used for file-backed list databases.
func SQLiteListDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite list backend: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteListBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteListBackend) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite list backend: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS list_items (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			list_key TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS list_items_by_key ON list_items(list_key, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return errors.Wrap(err, "sqlite list backend: migrate")
		}
	}
	return nil
}

func (s *SQLiteListBackend) Push(ctx context.Context, key string, items ...[]byte) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite list backend: db is nil")
	}
	if strings.TrimSpace(key) == "" {
		return 0, errors.New("sqlite list backend: key is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, backendError("sqlite list backend: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO list_items(list_key, payload, created_at_ms) VALUES(?, ?, ?)`)
	if err != nil {
		return 0, backendError("sqlite list backend: prepare push", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, key, item, now); err != nil {
			return 0, backendError("sqlite list backend: push", err)
		}
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM list_items WHERE list_key = ?`, key).Scan(&n); err != nil {
		return 0, backendError("sqlite list backend: push count", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, backendError("sqlite list backend: commit push", err)
	}
	return n, nil
}

func (s *SQLiteListBackend) Trim(ctx context.Context, key string, start, stop int64) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite list backend: db is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backendError("sqlite list backend: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM list_items WHERE list_key = ?`, key).Scan(&n); err != nil {
		return backendError("sqlite list backend: trim count", err)
	}
	lo, hi, ok := resolveRange(n, start, stop)
	if !ok {
		_, err = tx.ExecContext(ctx, `DELETE FROM list_items WHERE list_key = ?`, key)
	} else {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM list_items
			WHERE list_key = ?
				AND seq NOT IN (
					SELECT seq FROM list_items
					WHERE list_key = ?
					ORDER BY seq ASC
					LIMIT ? OFFSET ?
				)`, key, key, hi-lo, lo)
	}
	if err != nil {
		return backendError("sqlite list backend: trim", err)
	}
	if err := tx.Commit(); err != nil {
		return backendError("sqlite list backend: commit trim", err)
	}
	return nil
}

func (s *SQLiteListBackend) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite list backend: db is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, backendError("sqlite list backend: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM list_items WHERE list_key = ?`, key).Scan(&n); err != nil {
		return nil, backendError("sqlite list backend: range count", err)
	}
	lo, hi, ok := resolveRange(n, start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT payload FROM list_items
		WHERE list_key = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?`, key, hi-lo, lo)
	if err != nil {
		return nil, backendError("sqlite list backend: range", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([][]byte, 0, hi-lo)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, backendError("sqlite list backend: range scan", err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("sqlite list backend: range rows", err)
	}
	return out, nil
}

func (s *SQLiteListBackend) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite list backend: db is nil")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM list_items WHERE list_key = ?`, key); err != nil {
		return backendError("sqlite list backend: delete", err)
	}
	return nil
}

func (s *SQLiteListBackend) Len(ctx context.Context, key string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite list backend: db is nil")
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM list_items WHERE list_key = ?`, key).Scan(&n); err != nil {
		return 0, backendError("sqlite list backend: len", err)
	}
	return n, nil
}

func (s *SQLiteListBackend) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite list backend: db is nil")
	}
	pattern := "%"
	if prefix != "" {
		pattern = escapeLike(prefix+KeySeparator) + "%"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT list_key FROM list_items
		WHERE list_key LIKE ? ESCAPE '\'
		ORDER BY list_key ASC`, pattern)
	if err != nil {
		return nil, backendError("sqlite list backend: scan keys", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, backendError("sqlite list backend: scan keys", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("sqlite list backend: scan keys", err)
	}
	return keys, nil
}

func (s *SQLiteListBackend) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite list backend: db is nil")
	}
	return backendError("sqlite list backend: ping", s.db.PingContext(ctx))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
