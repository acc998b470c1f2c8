// Package sqlstore implements store.Store on database/sql. The sqlite and
// postgres drivers supply a Dialect and their migrations; the queries are
// shared and written with '?' placeholders.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// Dialect is what differs between engines.
type Dialect interface {
	Name() string
	// Rebind rewrites '?' placeholders into the engine's native form.
	Rebind(query string) string
	IsUniqueViolation(err error) bool
	// IsTransient reports write conflicts worth one more attempt.
	IsTransient(err error) bool
}

// Migrator applies the driver's embedded migrations.
type Migrator func(db *sql.DB) error

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a querier to a dialect.
type conn struct {
	q querier
	d Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.Rebind(query), args...)
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	migrate Migrator
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, d Dialect, m Migrator) *Store {
	return &Store{db: db, dialect: d, migrate: m}
}

// DB exposes the pool for drivers and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ApplyMigrations() error {
	if s.migrate == nil {
		return nil
	}
	return s.migrate(s.db)
}

func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txStore{tx: tx, c: conn{q: tx, d: s.dialect}}, nil
}

// WithTx runs fn in a transaction and retries it once when the driver reports
// a transient conflict.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.runTx(ctx, fn)
	if err != nil && s.dialect.IsTransient(err) {
		slogx.FromContext(ctx).Warn("retrying transaction after transient conflict",
			"driver", s.dialect.Name(), "err", err)
		err = s.runTx(ctx, fn)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) c() conn { return conn{q: s.db, d: s.dialect} }

func (s *Store) Users() store.Users                     { return &usersRepo{s.c()} }
func (s *Store) Roles() store.Roles                     { return &rolesRepo{s.c()} }
func (s *Store) RefreshTokens() store.RefreshTokens     { return &refreshTokensRepo{s.c()} }
func (s *Store) LoginAttempts() store.LoginAttempts     { return &loginAttemptsRepo{s.c()} }
func (s *Store) PasswordHistory() store.PasswordHistory { return &passwordHistoryRepo{s.c()} }
func (s *Store) SigningKeys() store.SigningKeys         { return &signingKeysRepo{s.c()} }

type txStore struct {
	tx *sql.Tx
	c  conn
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the caller commits or rolls back and the pool stays open.
func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

// ApplyMigrations is a no-op; migrations run before any transaction.
func (t *txStore) ApplyMigrations() error { return nil }

func (t *txStore) Users() store.Users                     { return &usersRepo{t.c} }
func (t *txStore) Roles() store.Roles                     { return &rolesRepo{t.c} }
func (t *txStore) RefreshTokens() store.RefreshTokens     { return &refreshTokensRepo{t.c} }
func (t *txStore) LoginAttempts() store.LoginAttempts     { return &loginAttemptsRepo{t.c} }
func (t *txStore) PasswordHistory() store.PasswordHistory { return &passwordHistoryRepo{t.c} }
func (t *txStore) SigningKeys() store.SigningKeys         { return &signingKeysRepo{t.c} }

// RebindDollar turns '?' into $1, $2, ... for postgres.
func RebindDollar(query string) string {
	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + n*2)
	i := 1
	for _, r := range query {
		if r == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(i))
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (c conn) mapWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	if c.d.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, store.ErrAlreadyExists)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireRow turns a zero-row update into ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func utc(t time.Time) time.Time { return t.UTC() }

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}
