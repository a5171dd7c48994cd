package domain

import "time"

// Article is the canonical record for one ingested item. Identity is the
// stable external key (canonical URL or feed GUID) used for deduplication.
type Article struct {
	Identity    string
	Title       string
	Excerpt     string
	Source      string
	PublishedAt time.Time

	// Embedding is computed once, before filtering, and never changes.
	Embedding []float32

	// Similarity is the cosine score against the stack profile in [-1, 1],
	// set at filter time.
	Similarity float64

	Criticality Criticality
	Summary     string

	IngestedAt time.Time
	AnalyzedAt *time.Time
}

// Analyzed reports whether the analyzer has filled the analysis fields.
func (a Article) Analyzed() bool {
	return a.AnalyzedAt != nil
}

// ScoredArticle pairs a stored article with its similarity to a query
// embedding, as returned by nearest-neighbor retrieval.
type ScoredArticle struct {
	Article
	Score float64
}

// Verdict is the analyzer's output for one article.
type Verdict struct {
	Criticality Criticality
	Summary     string
}
