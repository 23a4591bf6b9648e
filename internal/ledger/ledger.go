// Package ledger records archived rows in SQLite so an interrupted run can be
// resumed without refetching pages that already succeeded.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyperifyio/goarchive/internal/aggregate"
	"github.com/hyperifyio/goarchive/internal/item"
)

const schema = `
CREATE TABLE IF NOT EXISTS archived_rows (
	row_index     INTEGER NOT NULL,
	url_key       TEXT    NOT NULL,
	url           TEXT    NOT NULL,
	title         TEXT    NOT NULL DEFAULT '',
	document_path TEXT    NOT NULL DEFAULT '',
	pages         INTEGER NOT NULL DEFAULT 0,
	encoding      TEXT    NOT NULL DEFAULT '',
	attachments   INTEGER NOT NULL DEFAULT 0,
	run_id        TEXT    NOT NULL DEFAULT '',
	archived_at   INTEGER NOT NULL,
	PRIMARY KEY (row_index, url_key)
);
`

// Entry is a previously archived row.
type Entry struct {
	Row             int
	URL             string
	Title           string
	DocumentPath    string
	Pages           int
	Encoding        string
	AttachmentCount int
	RunID           string
	ArchivedAt      time.Time
}

// Outcome rebuilds the resumed outcome reported for a skipped row.
func (e Entry) Outcome() item.Outcome {
	now := time.Now().UTC()
	return item.Outcome{
		Row:             e.Row,
		URL:             e.URL,
		Title:           e.Title,
		Success:         true,
		AttachmentCount: e.AttachmentCount,
		DocumentPath:    e.DocumentPath,
		Pages:           e.Pages,
		Encoding:        e.Encoding,
		Resumed:         true,
		Started:         now,
		Finished:        now,
	}
}

// Store is a SQLite-backed ledger. A nil *Store is a no-op ledger.
type Store struct {
	sqlDB *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Lookup returns the entry for row if it was archived from the same URL.
func (s *Store) Lookup(ctx context.Context, row int, rawURL string) (Entry, bool, error) {
	if s == nil || s.sqlDB == nil {
		return Entry{}, false, nil
	}
	var (
		e  Entry
		at int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT row_index, url, title, document_path, pages, encoding, attachments, run_id, archived_at
FROM archived_rows
WHERE row_index = ? AND url_key = ?
`, row, aggregate.NormalizeString(rawURL)).Scan(&e.Row, &e.URL, &e.Title, &e.DocumentPath, &e.Pages, &e.Encoding, &e.AttachmentCount, &e.RunID, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup row %d: %w", row, err)
	}
	e.ArchivedAt = time.UnixMilli(at).UTC()
	return e, true, nil
}

// Record stores a successful outcome. Failed outcomes are ignored so the next
// run retries them.
func (s *Store) Record(ctx context.Context, runID string, o item.Outcome) error {
	if s == nil || s.sqlDB == nil || !o.Success || o.Resumed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := o.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO archived_rows (
	row_index,
	url_key,
	url,
	title,
	document_path,
	pages,
	encoding,
	attachments,
	run_id,
	archived_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (row_index, url_key) DO UPDATE SET
	title = excluded.title,
	document_path = excluded.document_path,
	pages = excluded.pages,
	encoding = excluded.encoding,
	attachments = excluded.attachments,
	run_id = excluded.run_id,
	archived_at = excluded.archived_at
`,
		o.Row,
		aggregate.NormalizeString(o.URL),
		o.URL,
		o.Title,
		o.DocumentPath,
		o.Pages,
		o.Encoding,
		o.AttachmentCount,
		runID,
		finished.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record row %d: %w", o.Row, err)
	}
	return nil
}

// Count returns the number of archived rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, nil
	}
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_rows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}
