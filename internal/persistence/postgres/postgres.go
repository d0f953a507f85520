// Package postgres provides a PostgreSQL persistence backend for deployments
// without Google credentials. Sheet rows are stored as text arrays and files
// as bytea blobs.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/burgerxpress/internal/persistence"
)

// Schema is the SQL DDL for the sheet_rows and stored_files tables.
const Schema = `
CREATE TABLE IF NOT EXISTS sheet_rows (
    id          BIGSERIAL    PRIMARY KEY,
    sheet       TEXT         NOT NULL,
    cells       TEXT[]       NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sheet_rows_sheet
    ON sheet_rows (sheet, id);

CREATE TABLE IF NOT EXISTS stored_files (
    id          UUID         PRIMARY KEY,
    folder_id   TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    mime_type   TEXT         NOT NULL,
    content     BYTEA        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_stored_files_folder
    ON stored_files (folder_id, mime_type);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ persistence.Backend = (*Store)(nil)

// Store is a persistence.Backend backed by PostgreSQL. Safe for concurrent use.
type Store struct {
	db         DB
	pool       *pgxpool.Pool
	linkPrefix string
}

// Option configures a [Store].
type Option func(*Store)

// WithLinkPrefix sets the prefix placed before file IDs in returned links.
// Default: "/api/conversations/".
func WithLinkPrefix(prefix string) Option {
	return func(s *Store) { s.linkPrefix = prefix }
}

// NewStore opens a pool to dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := New(pool, opts...)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection or pool. The caller owns db and is
// responsible for calling [Store.Migrate].
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, linkPrefix: "/api/conversations/"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate executes [Schema]. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Pool returns the underlying pool when the store was created by [NewStore],
// nil otherwise. The archive index shares it.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool if the store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// AppendRecord implements persistence.Gateway.
func (s *Store) AppendRecord(ctx context.Context, sheet persistence.Sheet, values []string) error {
	if values == nil {
		values = []string{}
	}
	const q = `INSERT INTO sheet_rows (sheet, cells) VALUES ($1, $2)`
	if _, err := s.db.Exec(ctx, q, string(sheet), values); err != nil {
		return fmt.Errorf("postgres: append %s: %w: %w", sheet, persistence.ErrPersistence, err)
	}
	return nil
}

// ReadRecords implements persistence.RecordReader. Rows come back in
// insertion order.
func (s *Store) ReadRecords(ctx context.Context, sheet persistence.Sheet) ([][]string, error) {
	const q = `SELECT cells FROM sheet_rows WHERE sheet = $1 ORDER BY id`
	rows, err := s.db.Query(ctx, q, string(sheet))
	if err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", sheet, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[[]string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", sheet, err)
	}
	if out == nil {
		out = [][]string{}
	}
	return out, nil
}

// UploadFile implements persistence.Gateway. The returned link is the link
// prefix followed by the generated file UUID.
func (s *Store) UploadFile(ctx context.Context, localPath, folderID string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("postgres: upload: %w: %w", persistence.ErrPersistence, err)
	}
	name := filepath.Base(localPath)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" || filepath.Ext(name) == ".txt" {
		mimeType = persistence.MIMEText
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}

	id := uuid.New()
	const q = `
		INSERT INTO stored_files (id, folder_id, name, mime_type, content)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, q, id.String(), folderID, name, mimeType, data); err != nil {
		return "", fmt.Errorf("postgres: upload %s: %w: %w", name, persistence.ErrPersistence, err)
	}
	return s.linkPrefix + id.String(), nil
}

// ListFiles implements persistence.Gateway. Newest files come first.
func (s *Store) ListFiles(ctx context.Context, folderID, mimeType string) []persistence.File {
	const q = `
		SELECT id::text, name FROM stored_files
		WHERE folder_id = $1 AND mime_type = $2
		ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, q, folderID, mimeType)
	if err != nil {
		slog.Warn("postgres: list files", "folder", folderID, "err", err)
		return []persistence.File{}
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (persistence.File, error) {
		var f persistence.File
		err := row.Scan(&f.ID, &f.Name)
		return f, err
	})
	if err != nil {
		slog.Warn("postgres: list files", "folder", folderID, "err", err)
		return []persistence.File{}
	}
	if files == nil {
		files = []persistence.File{}
	}
	return files
}

// DownloadFile implements persistence.Gateway.
func (s *Store) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	fileID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("postgres: download %q: %w", id, persistence.ErrNotFound)
	}
	var data []byte
	err = s.db.QueryRow(ctx, `SELECT content FROM stored_files WHERE id = $1`, fileID.String()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: download %q: %w", id, persistence.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: download %q: %w", id, err)
	}
	return data, nil
}
