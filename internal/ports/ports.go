package ports

import (
	"context"
	"time"

	"stackwatch/internal/domain"
)

// ArticleSource pulls candidate articles from upstream providers. Adapters
// skip failing sources silently; the pipeline never sees fetch-level errors.
type ArticleSource interface {
	FetchSince(ctx context.Context, since time.Time) ([]domain.Article, error)
}

// KnowledgeStore is the durable article table shared by the ingestion
// pipeline and the Q&A agent. Writers only append rows or fill
// previously-empty analysis fields; nothing else mutates stored rows.
type KnowledgeStore interface {
	// Known reports which of the given identities already exist. Exact match
	// only: a false positive would silently drop content, a false negative
	// would duplicate LLM spend.
	Known(ctx context.Context, identities []string) (map[string]bool, error)

	// InsertIfNew appends the article unless the identity already exists.
	// Re-inserting is a no-op, not an update; returns whether a row was added.
	InsertIfNew(ctx context.Context, article domain.Article) (bool, error)

	// MarkAnalyzed fills the analysis fields exactly once. Rows that already
	// carry a verdict are left untouched.
	MarkAnalyzed(ctx context.Context, identity string, verdict domain.Verdict) error

	// AllSince returns articles ingested at or after the given time.
	AllSince(ctx context.Context, since time.Time) ([]domain.Article, error)

	// Nearest returns the min(k, rows) highest-cosine-similarity articles for
	// the query embedding, ties broken by most recent ingestion.
	Nearest(ctx context.Context, embedding []float32, k int) ([]domain.ScoredArticle, error)

	// ListUnanalyzed returns rows still awaiting a verdict, oldest first.
	ListUnanalyzed(ctx context.Context, limit int) ([]domain.Article, error)
}

// Embedder turns text into a fixed-size vector. Deterministic for a fixed
// model version, which is what makes stored embeddings reusable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompletionRequest carries one instruction-following call to an LLM backend.
type CompletionRequest struct {
	System string
	Prompt string

	// ForceJSON asks the backend to constrain output to a JSON object.
	// Backends without such a knob ignore it.
	ForceJSON bool
}

// Completer is the capability interface over LLM backends, swappable between
// local and cloud providers.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Downloader fetches the readable full text of an article's page.
type Downloader interface {
	Download(ctx context.Context, article domain.Article) (string, error)
}

// Notifier publishes run digests to an outbound channel.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
