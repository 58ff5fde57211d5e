// Package sqlite provides a file-backed article store for single-node
// deployments that do not want to run Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mpharvester/internal/harvest"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	url TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	author TEXT,
	account_name TEXT,
	publish_time TEXT,
	content TEXT NOT NULL,
	images TEXT NOT NULL,
	cover_image TEXT,
	read_count INTEGER NOT NULL DEFAULT 0,
	like_count INTEGER NOT NULL DEFAULT 0,
	raw_content_ref TEXT,
	crawl_time TEXT,
	extracted_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_articles_account ON articles (account_name);
`

// ArticleStore persists article rows in a SQLite database file. URLs are
// canonicalized on the way in so a duplicate share link lands on the same row.
type ArticleStore struct {
	db *sql.DB
}

// NewArticleStore opens (or creates) the database at path and ensures the
// schema exists. Pass ":memory:" for an ephemeral store.
func NewArticleStore(path string) (*ArticleStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under the concurrent worker pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &ArticleStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *ArticleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts an article row, reporting a duplicate when the canonical URL
// already has one.
func (s *ArticleStore) Save(ctx context.Context, record harvest.ArticleRecord) (harvest.SaveOutcome, error) {
	if record.URL == "" {
		return harvest.SaveStored, fmt.Errorf("article url is required")
	}
	imagesJSON, err := json.Marshal(normalizeImages(record.Images))
	if err != nil {
		return harvest.SaveStored, fmt.Errorf("marshal images: %w", err)
	}

	query := `
INSERT OR IGNORE INTO articles (
	url, title, author, account_name, publish_time, content, images,
	cover_image, read_count, like_count, raw_content_ref, crawl_time, extracted_by
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		harvest.CanonicalKey(record.URL),
		record.Title,
		record.Author,
		record.AccountName,
		formatTime(record.PublishTime),
		record.Content,
		string(imagesJSON),
		record.CoverImage,
		record.ReadCount,
		record.LikeCount,
		record.RawContentRef,
		formatTime(record.CrawlTime),
		record.ExtractedBy,
	)
	if err != nil {
		return harvest.SaveStored, fmt.Errorf("insert article: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return harvest.SaveStored, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return harvest.SaveDuplicate, nil
	}
	return harvest.SaveStored, nil
}

// Exists reports whether the canonical URL already has a row.
func (s *ArticleStore) Exists(ctx context.Context, url string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM articles WHERE url = ?)`
	if err := s.db.QueryRowContext(ctx, query, harvest.CanonicalKey(url)).Scan(&exists); err != nil {
		return false, fmt.Errorf("query article existence: %w", err)
	}
	return exists, nil
}

func normalizeImages(images []string) []string {
	if len(images) == 0 {
		return []string{}
	}
	return append([]string(nil), images...)
}

// formatTime stores timestamps as RFC3339Nano text, NULL when unset.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
