package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSearchLimit = 3

// PostgresStore reads articles from PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if err := seedArticles(ctx, pool, SeedArticles()); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			url TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_category ON articles (category);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// seedArticles inserts the catalogue articles once; existing rows win.
func seedArticles(ctx context.Context, pool *pgxpool.Pool, articles []Article) error {
	batch := &pgx.Batch{}
	for _, a := range articles {
		batch.Queue(
			`INSERT INTO articles (id, title, category, content, url)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			 ON CONFLICT (id) DO NOTHING`,
			a.ID, a.Title, a.Category, a.Content, a.URL,
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed articles: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchArticles(ctx context.Context, query string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, category, content, COALESCE(url, '')
		 FROM articles
		 WHERE title ILIKE $1 OR content ILIKE $1 OR category ILIKE $1
		 ORDER BY CASE
			WHEN title ILIKE $1 THEN 1
			WHEN category ILIKE $1 THEN 2
			ELSE 3
		 END
		 LIMIT $2`,
		likePattern(query),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0, limit)
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Category, &a.Content, &a.URL); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps q for a substring ILIKE match with wildcards in q escaped.
func likePattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
