package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/models"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS uploads (
	id            TEXT PRIMARY KEY,
	filename      TEXT NOT NULL,
	mime_type     TEXT NOT NULL,
	size          INTEGER NOT NULL,
	page_count    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	chat_history  TEXT NOT NULL DEFAULT '[]',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
)`

// SQLiteStore keeps records in a single local table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec models.UploadRecord) error {
	r, err := toStored(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO uploads (id, filename, mime_type, size, page_count, status, content, error_message, chat_history, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	content = excluded.content,
	error_message = excluded.error_message,
	chat_history = excluded.chat_history,
	updated_at = excluded.updated_at`,
		r.ID, r.Filename, r.MIMEType, r.Size, r.PageCount, r.Status, r.Content, r.ErrorMessage, r.ChatHistory,
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM uploads`); err != nil {
		return fmt.Errorf("sqlite: delete all: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadTerminal(ctx context.Context) ([]models.UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, filename, mime_type, size, page_count, status, content, error_message, chat_history, created_at, updated_at
FROM uploads
WHERE status IN (?, ?)
ORDER BY created_at, rowid`, string(models.StatusSuccess), string(models.StatusError))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []models.UploadRecord
	for rows.Next() {
		var r storedRecord
		var created, updated int64
		if err := rows.Scan(&r.ID, &r.Filename, &r.MIMEType, &r.Size, &r.PageCount, &r.Status,
			&r.Content, &r.ErrorMessage, &r.ChatHistory, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		r.UpdatedAt = time.Unix(0, updated).UTC()
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
