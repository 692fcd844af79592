package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/okian/liscrape/internal/domain/model"
)

const contactsTable = "contacts"

// SQLite stores records as rows of a contacts table, one column per record
// column.
type SQLite struct {
	path string
	mu   sync.Mutex
	db   *sql.DB
}

// NewSQLite returns a SQLite sink for path. The database is opened on first
// use.
func NewSQLite(path string) *SQLite { return &SQLite{path: path} }

func (s *SQLite) Path() string { return s.path }
func (s *SQLite) Kind() Kind   { return KindSQLite }

func (s *SQLite) Append(ctx context.Context, r model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openLocked(ctx)
	if err != nil {
		return err
	}
	values := r.Values()
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if _, err := db.ExecContext(ctx, insertStatement(), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		// Opening would create the file.
		if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
	}
	db, err := s.openLocked(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+contactsTable).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.path, err)
	}
	return n, nil
}

func (s *SQLite) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeLocked(); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := removeFile(s.path + suffix); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SQLite) closeLocked() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

// openLocked opens the database and creates the table if needed.
func (s *SQLite) openLocked(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, createStatement()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	s.db = db
	return db, nil
}

func createStatement() string {
	cols := model.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c) + " TEXT NOT NULL DEFAULT ''"
	}
	return "CREATE TABLE IF NOT EXISTS " + contactsTable +
		" (id INTEGER PRIMARY KEY AUTOINCREMENT, " + strings.Join(defs, ", ") + ")"
}

func insertStatement() string {
	cols := model.Columns()
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c)
		marks[i] = "?"
	}
	return "INSERT INTO " + contactsTable + " (" + strings.Join(names, ", ") +
		") VALUES (" + strings.Join(marks, ", ") + ")"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
