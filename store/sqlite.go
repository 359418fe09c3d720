package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	affectsdk "github.com/lumenchat/affect-sdk-go"
)

// SQLiteStore implements affectsdk.Store on a local SQLite file.
// Suited to single-node deployments; versioned records use a guarded
// UPDATE for optimistic concurrency.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and ensures schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS affect_samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            entity_id TEXT NOT NULL,
            ts INTEGER NOT NULL,
            payload TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_samples_entity_ts ON affect_samples(entity_id, ts);`,
		`CREATE TABLE IF NOT EXISTS affect_records (
            kind TEXT NOT NULL,
            id TEXT NOT NULL,
            value TEXT NOT NULL,
            version INTEGER NOT NULL,
            PRIMARY KEY (kind, id)
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) AppendSample(ctx context.Context, entityID string, ts time.Time, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO affect_samples (entity_id, ts, payload) VALUES (?, ?, ?)`,
		entityID, ts.UnixNano(), payload)
	return affectsdk.WrapStorage("append sample", err)
}

func (s *SQLiteStore) RangeSamples(ctx context.Context, entityID string, from, to time.Time) ([]affectsdk.SampleRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, payload FROM affect_samples
         WHERE entity_id = ? AND ts >= ? AND ts <= ?
         ORDER BY ts ASC, id ASC`,
		entityID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, affectsdk.WrapStorage("range samples", err)
	}
	defer rows.Close()

	var out []affectsdk.SampleRow
	for rows.Next() {
		var nano int64
		var payload string
		if err := rows.Scan(&nano, &payload); err != nil {
			return nil, affectsdk.WrapStorage("range samples", err)
		}
		out = append(out, affectsdk.SampleRow{Timestamp: time.Unix(0, nano), Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, affectsdk.WrapStorage("range samples", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, kind, id string) (string, int64, error) {
	var value string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM affect_records WHERE kind = ? AND id = ?`,
		kind, id).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, affectsdk.WrapStorage("get record", err)
	}
	return value, version, nil
}

func (s *SQLiteStore) PutRecord(ctx context.Context, kind, id, value string, expectVersion int64) error {
	if expectVersion == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO affect_records (kind, id, value, version) VALUES (?, ?, ?, 1)
             ON CONFLICT (kind, id) DO NOTHING`,
			kind, id, value)
		if err != nil {
			return affectsdk.WrapStorage("put record", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return affectsdk.WrapStorage("put record", err)
		}
		if n == 0 {
			return affectsdk.ErrVersionConflict
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE affect_records SET value = ?, version = ?
         WHERE kind = ? AND id = ? AND version = ?`,
		value, expectVersion+1, kind, id, expectVersion)
	if err != nil {
		return affectsdk.WrapStorage("put record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return affectsdk.WrapStorage("put record", err)
	}
	if n == 0 {
		return affectsdk.ErrVersionConflict
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ affectsdk.Store = (*SQLiteStore)(nil)
