package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docqa/internal/core/domain"
)

const schemaLockID = int64(2026101901)

// Store persists indexes in Postgres. The storage path passed to Load and
// Save is used as the namespace key.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent front ends.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS rag_indexes (
	namespace TEXT PRIMARY KEY,
	meta JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rag_index_records (
	namespace TEXT NOT NULL REFERENCES rag_indexes(namespace) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	document_id TEXT NOT NULL,
	source TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	vector JSONB NOT NULL,
	PRIMARY KEY (namespace, position)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, storagePath string) (*domain.Index, error) {
	var metaRaw []byte
	err := s.db.QueryRowContext(ctx, `
SELECT meta
FROM rag_indexes
WHERE namespace = $1
`, storagePath).Scan(&metaRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrIndexNotFound, "load index", fmt.Errorf("namespace %q", storagePath))
		}
		return nil, fmt.Errorf("query index meta: %w", err)
	}

	index := &domain.Index{}
	if err := json.Unmarshal(metaRaw, &index.Meta); err != nil {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index", err)
	}
	if index.Meta.FormatVersion != domain.IndexFormatVersion {
		return nil, domain.WrapError(domain.ErrIndexIncompatible, "load index",
			fmt.Errorf("format version %d, want %d", index.Meta.FormatVersion, domain.IndexFormatVersion))
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT document_id, source, chunk_index, text, vector
FROM rag_index_records
WHERE namespace = $1
ORDER BY position
`, storagePath)
	if err != nil {
		return nil, fmt.Errorf("query index records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.IndexRecord
		var vectorRaw []byte
		if err := rows.Scan(&rec.DocumentID, &rec.Source, &rec.ChunkIndex, &rec.Text, &vectorRaw); err != nil {
			return nil, fmt.Errorf("scan index record: %w", err)
		}
		if err := json.Unmarshal(vectorRaw, &rec.Vector); err != nil {
			return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index", fmt.Errorf("record %d vector: %w", len(index.Records), err))
		}
		index.Records = append(index.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index records: %w", err)
	}
	return index, nil
}

// Save replaces everything stored under the namespace in one transaction.
func (s *Store) Save(ctx context.Context, storagePath string, index *domain.Index) error {
	if index == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save index", errors.New("index is nil"))
	}
	metaJSON, err := json.Marshal(index.Meta)
	if err != nil {
		return fmt.Errorf("marshal index meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rag_index_records WHERE namespace = $1`, storagePath); err != nil {
		return fmt.Errorf("delete index records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO rag_indexes (namespace, meta, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (namespace) DO UPDATE SET meta = EXCLUDED.meta, updated_at = EXCLUDED.updated_at
`, storagePath, metaJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert index meta: %w", err)
	}

	for i, rec := range index.Records {
		vectorJSON, err := json.Marshal(rec.Vector)
		if err != nil {
			return fmt.Errorf("marshal record %d vector: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO rag_index_records (namespace, position, document_id, source, chunk_index, text, vector)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, storagePath, i, rec.DocumentID, rec.Source, rec.ChunkIndex, rec.Text, vectorJSON); err != nil {
			return fmt.Errorf("insert index record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}
