// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mpharvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ArticleStoreConfig controls the Postgres connection pool used for article rows.
type ArticleStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ArticleStore writes article rows into Postgres. URLs are canonicalized on
// the way in so a duplicate share link lands on the same row.
type ArticleStore struct {
	pool  dbPool
	table string
}

// NewArticleStore creates a Postgres-backed ArticleStore using the provided config.
func NewArticleStore(ctx context.Context, cfg ArticleStoreConfig) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "articles"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArticleStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool dbPool, table string) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "articles"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArticleStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Save inserts an article row. Inserts race-safely dedupe on the canonical
// URL: a conflicting row means another fetch already stored the article and
// the record is reported as a duplicate.
func (s *ArticleStore) Save(ctx context.Context, record harvest.ArticleRecord) (harvest.SaveOutcome, error) {
	if s == nil || s.pool == nil {
		return harvest.SaveStored, fmt.Errorf("article store is not configured")
	}
	if record.URL == "" {
		return harvest.SaveStored, fmt.Errorf("article url is required")
	}
	imagesJSON, err := json.Marshal(normalizeImages(record.Images))
	if err != nil {
		return harvest.SaveStored, fmt.Errorf("marshal images: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	title,
	author,
	account_name,
	publish_time,
	content,
	images,
	cover_image,
	read_count,
	like_count,
	raw_content_ref,
	crawl_time,
	extracted_by
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
) ON CONFLICT (url) DO NOTHING`, s.table)

	args := []any{
		harvest.CanonicalKey(record.URL),
		record.Title,
		record.Author,
		record.AccountName,
		nullableTime(record.PublishTime),
		record.Content,
		imagesJSON,
		record.CoverImage,
		record.ReadCount,
		record.LikeCount,
		record.RawContentRef,
		nullableTime(record.CrawlTime),
		record.ExtractedBy,
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return harvest.SaveStored, fmt.Errorf("insert article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.SaveDuplicate, nil
	}
	return harvest.SaveStored, nil
}

// Exists reports whether the canonical URL already has a row.
func (s *ArticleStore) Exists(ctx context.Context, url string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("article store is not configured")
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, harvest.CanonicalKey(url)).Scan(&exists); err != nil {
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

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
