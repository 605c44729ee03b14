// Package sqlstore keeps cache entries in a single SQL table. It backs the
// "sqlite" (embedded) and "postgres"/"mysql" (relational) backends.
//
// Tables have no passive expiry, so expired rows are deleted when the store
// is opened; reads also filter on expires_at.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	pr "github.com/unkn0wn-root/megacache/provider"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type Config struct {
	Dialect Dialect
	DSN     string
	Table   string // default "megacache"
	Now     func() time.Time

	// DB, when set, is used instead of opening DSN. It is not closed by Close.
	DB *sql.DB
}

type Store struct {
	db      *sql.DB
	ownsDB  bool
	dialect Dialect
	now     func() time.Time

	qGet   string
	qSet   string
	qDel   string
	qPurge string
}

var _ pr.Provider = (*Store)(nil)

// Open connects, creates the table when missing and purges expired rows.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dialect.name == "" {
		return nil, errors.New("sqlstore: dialect is required")
	}
	table := cfg.Table
	if table == "" {
		table = "megacache"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", table)
	}

	s := &Store{db: cfg.DB, dialect: cfg.Dialect, now: cfg.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if s.db == nil {
		db, err := sql.Open(cfg.Dialect.driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Dialect.name, err)
		}
		s.db, s.ownsDB = db, true
	}

	if err := s.db.PingContext(ctx); err != nil {
		s.closeDB()
		return nil, fmt.Errorf("sqlstore: connect %s: %w", cfg.Dialect.name, err)
	}
	if _, err := s.db.ExecContext(ctx, cfg.Dialect.createTable(table)); err != nil {
		s.closeDB()
		return nil, fmt.Errorf("sqlstore: create table: %w", err)
	}

	d := cfg.Dialect
	s.qGet = fmt.Sprintf("SELECT v FROM %s WHERE k = %s AND expires_at > %s", table, d.ph(1), d.ph(2))
	s.qSet = d.upsert(table)
	s.qDel = fmt.Sprintf("DELETE FROM %s WHERE k = %s", table, d.ph(1))
	s.qPurge = fmt.Sprintf("DELETE FROM %s WHERE expires_at <= %s", table, d.ph(1))

	if _, err := s.Purge(ctx); err != nil {
		s.closeDB()
		return nil, err
	}
	return s, nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.qPurge, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, s.qGet, key, s.now().UnixNano()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if value == nil {
		value = []byte{}
	}
	exp := pr.Deadline(s.now(), ttl).UnixNano()
	if _, err := s.db.ExecContext(ctx, s.qSet, key, value, exp); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.qDel, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Close(context.Context) error {
	return s.closeDB()
}

func (s *Store) closeDB() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}
