// Package store is the sqlite persistence layer. All times are stored as
// naive UTC text ("2006-01-02 15:04:05") so range queries compare
// lexicographically; the accessors parse and format at the boundary.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

const timeLayout = "2006-01-02 15:04:05"

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, applies pragmas, and runs
// pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single writer connection avoids
	// SQLITE_BUSY under concurrent schedule generation.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for one-off queries in tests.
func (s *Store) DB() *sql.DB { return s.db }

// GetMeta returns the value for key, or "" when unset.
func (s *Store) GetMeta(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %q: %w", key, err)
	}
	return v, nil
}

// SetMeta upserts a key/value pair.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	// Rows written by sqlite's datetime('now') default match timeLayout;
	// tolerate a trailing fractional part from hand-inserted rows.
	if len(s) > len(timeLayout) {
		s = s[:len(timeLayout)]
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// nullStr maps "" to SQL NULL so optional text columns stay NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// scanStr and scanInt turn NULL back into the zero value / nil pointer.
type scanStr struct{ v *string }

func (x scanStr) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*x.v = ""
	case string:
		*x.v = s
	case []byte:
		*x.v = string(s)
	default:
		return fmt.Errorf("unexpected column type %T", src)
	}
	return nil
}

type scanInt struct{ v **int }

func (x scanInt) Scan(src any) error {
	switch n := src.(type) {
	case nil:
		*x.v = nil
	case int64:
		i := int(n)
		*x.v = &i
	default:
		return fmt.Errorf("unexpected column type %T", src)
	}
	return nil
}

type scanTime struct{ v *time.Time }

func (x scanTime) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*x.v = time.Time{}
	case string:
		t, err := parseTime(s)
		if err != nil {
			return err
		}
		*x.v = t
	case []byte:
		t, err := parseTime(string(s))
		if err != nil {
			return err
		}
		*x.v = t
	case time.Time:
		*x.v = s.UTC()
	default:
		return fmt.Errorf("unexpected column type %T", src)
	}
	return nil
}

type scanTimePtr struct{ v **time.Time }

func (x scanTimePtr) Scan(src any) error {
	if src == nil {
		*x.v = nil
		return nil
	}
	var t time.Time
	if err := (scanTime{&t}).Scan(src); err != nil {
		return err
	}
	*x.v = &t
	return nil
}
