package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
	"stackwatch/internal/vigil"
)

// ErrEmbeddingModelMismatch means the store holds vectors produced by a
// different embedding model. Mixing vector spaces silently would corrupt
// retrieval, so opening fails instead.
var ErrEmbeddingModelMismatch = errors.New("knowledge store was built with a different embedding model")

const embeddingModelKey = "embedding_model"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS articles (
		identity TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		excerpt TEXT NOT NULL,
		source TEXT NOT NULL,
		published_at DATETIME,
		embedding BLOB,
		similarity REAL NOT NULL DEFAULT 0,
		criticality INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		ingested_at DATETIME NOT NULL,
		analyzed_at DATETIME NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_articles_ingested_at ON articles(ingested_at);`,
	`CREATE INDEX IF NOT EXISTS idx_articles_analyzed_at ON articles(analyzed_at);`,
	`CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
}

// Store is the durable knowledge base shared by the ingestion pipeline and
// the Q&A agent, backed by an embedded SQLite file. Rows are append-only;
// analysis fields are filled exactly once.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ports.KnowledgeStore = (*Store)(nil)

// Open creates the database file and schema on first use and pins the store
// generation to the given embedding model identifier. Re-opening a non-empty
// store with a different model returns ErrEmbeddingModelMismatch.
func Open(ctx context.Context, path, embeddingModel string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.init(ctx, embeddingModel); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context, embeddingModel string) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return s.checkGeneration(ctx, embeddingModel)
}

func (s *Store) checkGeneration(ctx context.Context, embeddingModel string) error {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, embeddingModelKey).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO store_meta (key, value) VALUES (?, ?)`, embeddingModelKey, embeddingModel)
		if err != nil {
			return fmt.Errorf("record embedding model: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read store generation: %w", err)
	}

	if stored == embeddingModel {
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count); err != nil {
		return fmt.Errorf("count articles: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("store holds %q, run configured %q: %w", stored, embeddingModel, ErrEmbeddingModelMismatch)
	}

	// Empty store: safe to rebind the generation.
	_, err = s.db.ExecContext(ctx,
		`UPDATE store_meta SET value = ? WHERE key = ?`, embeddingModel, embeddingModelKey)
	if err != nil {
		return fmt.Errorf("rebind embedding model: %w", err)
	}
	return nil
}

// Known returns a map with the identities that already exist in the store.
func (s *Store) Known(ctx context.Context, identities []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(identities) == 0 {
		return result, nil
	}

	query, args, err := sq.Select("identity").
		From("articles").
		Where(sq.Eq{"identity": identities}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build known query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query known: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		result[identity] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// InsertIfNew appends the article unless its identity already exists.
// The first-seen row wins; later inserts with the same identity change
// nothing and return false.
func (s *Store) InsertIfNew(ctx context.Context, article domain.Article) (bool, error) {
	ingestedAt := article.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	query, args, err := sq.Insert("articles").
		Columns("identity", "title", "excerpt", "source", "published_at",
			"embedding", "similarity", "criticality", "summary", "ingested_at").
		Values(article.Identity, article.Title, article.Excerpt, article.Source, article.PublishedAt.UTC(),
			encodeVector(article.Embedding), article.Similarity, int(article.Criticality), article.Summary, ingestedAt).
		Suffix("ON CONFLICT(identity) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert article %s: %w", article.Identity, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkAnalyzed fills the analysis fields for a row that has none yet. A row
// already carrying a verdict is left untouched: criticality only ever moves
// forward from NONE, and only through this method.
func (s *Store) MarkAnalyzed(ctx context.Context, identity string, verdict domain.Verdict) error {
	if verdict.Criticality == domain.CriticalityNone {
		return fmt.Errorf("verdict for %s carries no criticality level", identity)
	}

	query, args, err := sq.Update("articles").
		Set("criticality", int(verdict.Criticality)).
		Set("summary", verdict.Summary).
		Set("analyzed_at", time.Now().UTC()).
		Where(sq.Eq{"identity": identity}).
		Where("analyzed_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark analyzed: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark analyzed %s: %w", identity, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark analyzed %s: rows affected: %w", identity, err)
	}
	if affected == 0 {
		s.logger.Debug("verdict ignored, row missing or already analyzed", "identity", identity)
	}
	return nil
}

// AllSince returns articles ingested at or after the given time, newest
// first.
func (s *Store) AllSince(ctx context.Context, since time.Time) ([]domain.Article, error) {
	query, args, err := selectArticles().
		Where(sq.GtOrEq{"ingested_at": since.UTC()}).
		OrderBy("ingested_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build all since: %w", err)
	}
	return s.queryArticles(ctx, query, args...)
}

// ListUnanalyzed returns rows still awaiting a verdict, oldest first.
func (s *Store) ListUnanalyzed(ctx context.Context, limit int) ([]domain.Article, error) {
	builder := selectArticles().
		Where("analyzed_at IS NULL").
		OrderBy("ingested_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list unanalyzed: %w", err)
	}
	return s.queryArticles(ctx, query, args...)
}

// Nearest linearly scans stored embeddings and returns the min(k, rows)
// highest-cosine matches, ties broken by most recent ingestion. A linear
// scan is fine at this store's scale; no index structure is kept.
func (s *Store) Nearest(ctx context.Context, embedding []float32, k int) ([]domain.ScoredArticle, error) {
	if k <= 0 {
		return nil, nil
	}

	query, args, err := selectArticles().
		Where("embedding IS NOT NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build nearest: %w", err)
	}

	articles, err := s.queryArticles(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	scored := make([]domain.ScoredArticle, 0, len(articles))
	for _, article := range articles {
		score, ok := vigil.Cosine(embedding, article.Embedding)
		if !ok {
			continue
		}
		scored = append(scored, domain.ScoredArticle{Article: article, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].IngestedAt.After(scored[j].IngestedAt)
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func selectArticles() sq.SelectBuilder {
	return sq.Select("identity", "title", "excerpt", "source", "published_at",
		"embedding", "similarity", "criticality", "summary", "ingested_at", "analyzed_at").
		From("articles")
}

func (s *Store) queryArticles(ctx context.Context, query string, args ...any) ([]domain.Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return articles, nil
}

func scanArticle(rows *sql.Rows) (domain.Article, error) {
	var (
		article     domain.Article
		publishedAt sql.NullTime
		analyzedAt  sql.NullTime
		blob        []byte
		criticality int
	)

	err := rows.Scan(&article.Identity, &article.Title, &article.Excerpt, &article.Source, &publishedAt,
		&blob, &article.Similarity, &criticality, &article.Summary, &article.IngestedAt, &analyzedAt)
	if err != nil {
		return domain.Article{}, fmt.Errorf("scan article: %w", err)
	}

	if publishedAt.Valid {
		article.PublishedAt = publishedAt.Time
	}
	if analyzedAt.Valid {
		at := analyzedAt.Time
		article.AnalyzedAt = &at
	}
	article.Criticality = domain.Criticality(criticality)

	article.Embedding, err = decodeVector(blob)
	if err != nil {
		return domain.Article{}, fmt.Errorf("article %s: %w", article.Identity, err)
	}
	return article, nil
}
