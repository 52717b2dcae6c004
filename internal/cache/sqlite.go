package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteTier implements the persistent cache tier on modernc.org/sqlite.
// Suitable for single-host deployments; use RedisTier when multiple
// processes share one cache.
type SQLiteTier struct {
	db *sql.DB
}

// NewSQLiteTier opens (or creates) the cache database at dsn and ensures the
// schema exists.
func NewSQLiteTier(dsn string) (*SQLiteTier, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: sqlite exec %s", pragma)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: sqlite migrate")
	}

	return &SQLiteTier{db: db}, nil
}

func (t *SQLiteTier) Get(ctx context.Context, namespace, key string) ([]byte, time.Time, bool, error) {
	var value []byte
	var expiresUnix int64
	err := t.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value, &expiresUnix)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, eris.Wrap(err, "cache: sqlite get")
	}
	return value, time.Unix(expiresUnix, 0), true, nil
}

func (t *SQLiteTier) Set(ctx context.Context, namespace, key string, value []byte, expiresAt time.Time) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, key, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		namespace, key, value, expiresAt.Unix(),
	)
	return eris.Wrap(err, "cache: sqlite set")
}

func (t *SQLiteTier) Clear(ctx context.Context, namespace string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, namespace)
	return eris.Wrapf(err, "cache: sqlite clear %s", namespace)
}

func (t *SQLiteTier) ClearAll(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return eris.Wrap(err, "cache: sqlite clear all")
}

func (t *SQLiteTier) DeleteExpired(ctx context.Context) (int, error) {
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}

func (t *SQLiteTier) Close() error {
	return t.db.Close()
}
