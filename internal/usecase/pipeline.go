package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"stackwatch/internal/config"
	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
	"stackwatch/internal/profile"
	"stackwatch/internal/vigil"
)

// Analyzer produces a criticality verdict for one article.
type Analyzer interface {
	Analyze(ctx context.Context, article domain.Article) (domain.Verdict, error)
}

// ProfileBuilder turns the configured stack into reference vectors.
type ProfileBuilder interface {
	Build(ctx context.Context, stack config.StackConfig) (*profile.Profile, error)
}

// RunStats summarizes a single ingestion run.
type RunStats struct {
	Fetched     int
	Duplicates  int
	FilteredOut int
	Analyzed    int
	Failed      int
}

// RunOptions selects what a run processes.
type RunOptions struct {
	// RetryFailed re-analyzes stored rows that never received a verdict
	// instead of fetching new articles.
	RetryFailed bool
}

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Source   ports.ArticleSource
	Store    ports.KnowledgeStore
	Embedder ports.Embedder
	Analyzer Analyzer
	Profile  ProfileBuilder
	Notifier ports.Notifier

	Stack        config.StackConfig
	Threshold    float64
	Lookback     time.Duration
	Concurrency  int
	DigestCutoff domain.Criticality

	Logger *slog.Logger
}

// Pipeline implements the fetch, filter, analyze, persist workflow. Every
// article is processed independently; one failure never aborts the run.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Concurrency < 1 {
		deps.Concurrency = 1
	}
	return &Pipeline{deps: deps}
}

// Run executes one ingestion pass. The stack profile is built first: an
// empty stack configuration is a fatal error and nothing is fetched or
// written. After that point failures are isolated per article.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunStats, error) {
	runID := ulid.Make().String()
	logger := p.deps.Logger.With("run", runID)

	if opts.RetryFailed {
		return p.retryFailed(ctx, logger)
	}

	stackProfile, err := p.deps.Profile.Build(ctx, p.deps.Stack)
	if err != nil {
		return RunStats{}, fmt.Errorf("build stack profile: %w", err)
	}

	since := time.Now().UTC().Add(-p.deps.Lookback)
	articles, err := p.deps.Source.FetchSince(ctx, since)
	if err != nil {
		return RunStats{}, fmt.Errorf("fetch articles: %w", err)
	}
	logger.Info("fetched articles", "count", len(articles), "cutoff", since.Format(time.RFC3339))

	fetched := len(articles)
	articles = dedupeByIdentity(articles)
	inRunDuplicates := fetched - len(articles)

	known := map[string]bool{}
	if len(articles) > 0 {
		identities := make([]string, len(articles))
		for i, article := range articles {
			identities[i] = article.Identity
		}
		known, err = p.deps.Store.Known(ctx, identities)
		if err != nil {
			return RunStats{}, fmt.Errorf("load known identities: %w", err)
		}
	}

	var (
		mu      sync.Mutex
		stats   RunStats
		digest  []domain.Article
		grp, gc = errgroup.WithContext(ctx)
	)
	stats.Fetched = fetched
	stats.Duplicates = inRunDuplicates
	grp.SetLimit(p.deps.Concurrency)

	for _, article := range articles {
		if known[article.Identity] {
			stats.Duplicates++
			continue
		}

		grp.Go(func() error {
			outcome := p.processArticle(gc, logger, article, stackProfile.Vectors)

			mu.Lock()
			defer mu.Unlock()
			switch outcome.kind {
			case outcomeFiltered:
				stats.FilteredOut++
			case outcomeDuplicate:
				stats.Duplicates++
			case outcomeAnalyzed:
				stats.Analyzed++
				if outcome.article.Criticality >= p.deps.DigestCutoff {
					digest = append(digest, outcome.article)
				}
			case outcomeFailed:
				stats.Failed++
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return stats, err
	}

	p.publishDigest(ctx, logger, digest)

	logger.Info("run complete",
		"fetched", stats.Fetched,
		"duplicates", stats.Duplicates,
		"filtered_out", stats.FilteredOut,
		"analyzed", stats.Analyzed,
		"failed", stats.Failed)
	return stats, nil
}

type outcomeKind int

const (
	outcomeFiltered outcomeKind = iota
	outcomeDuplicate
	outcomeAnalyzed
	outcomeFailed
)

type articleOutcome struct {
	kind    outcomeKind
	article domain.Article
}

// processArticle runs one article through embed, filter, insert, analyze.
// A rejected article is dropped before any model call is made. An article
// whose analysis fails stays in the store without a verdict, picked up by a
// later retry-failed pass.
func (p *Pipeline) processArticle(ctx context.Context, logger *slog.Logger, article domain.Article, references [][]float32) articleOutcome {
	embedding, err := p.deps.Embedder.Embed(ctx, article.Title+"\n"+article.Excerpt)
	if err != nil {
		logger.Warn("embedding failed", "identity", article.Identity, "error", err)
		return articleOutcome{kind: outcomeFailed}
	}
	article.Embedding = embedding

	decision := vigil.Decide(embedding, references, p.deps.Threshold)
	article.Similarity = decision.Score
	if !decision.Accepted {
		logger.Debug("article rejected by relevance filter",
			"identity", article.Identity, "score", decision.Score)
		return articleOutcome{kind: outcomeFiltered}
	}

	article.IngestedAt = time.Now().UTC()
	inserted, err := p.deps.Store.InsertIfNew(ctx, article)
	if err != nil {
		logger.Warn("persist failed", "identity", article.Identity, "error", err)
		return articleOutcome{kind: outcomeFailed}
	}
	if !inserted {
		return articleOutcome{kind: outcomeDuplicate}
	}

	verdict, err := p.deps.Analyzer.Analyze(ctx, article)
	if err != nil {
		logger.Warn("analysis failed, row left for a later pass",
			"identity", article.Identity, "error", err)
		return articleOutcome{kind: outcomeFailed}
	}

	if err := p.deps.Store.MarkAnalyzed(ctx, article.Identity, verdict); err != nil {
		logger.Warn("verdict write failed", "identity", article.Identity, "error", err)
		return articleOutcome{kind: outcomeFailed}
	}

	article.Criticality = verdict.Criticality
	article.Summary = verdict.Summary
	return articleOutcome{kind: outcomeAnalyzed, article: article}
}

// retryFailed re-runs analysis for stored rows without a verdict. These rows
// already passed the relevance filter, so no embedding or filtering happens.
func (p *Pipeline) retryFailed(ctx context.Context, logger *slog.Logger) (RunStats, error) {
	pending, err := p.deps.Store.ListUnanalyzed(ctx, 0)
	if err != nil {
		return RunStats{}, fmt.Errorf("list unanalyzed: %w", err)
	}
	logger.Info("retrying unanalyzed rows", "count", len(pending))

	var (
		mu      sync.Mutex
		stats   RunStats
		grp, gc = errgroup.WithContext(ctx)
	)
	stats.Fetched = len(pending)
	grp.SetLimit(p.deps.Concurrency)

	for _, article := range pending {
		grp.Go(func() error {
			verdict, err := p.deps.Analyzer.Analyze(gc, article)
			if err != nil {
				logger.Warn("analysis failed again", "identity", article.Identity, "error", err)
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				return nil
			}
			if err := p.deps.Store.MarkAnalyzed(gc, article.Identity, verdict); err != nil {
				logger.Warn("verdict write failed", "identity", article.Identity, "error", err)
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			stats.Analyzed++
			mu.Unlock()
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return stats, err
	}
	logger.Info("retry pass complete", "analyzed", stats.Analyzed, "failed", stats.Failed)
	return stats, nil
}

func (p *Pipeline) publishDigest(ctx context.Context, logger *slog.Logger, findings []domain.Article) {
	if p.deps.Notifier == nil || len(findings) == 0 {
		return
	}

	message := buildDigestMessage(findings)
	if err := p.deps.Notifier.PublishDigest(ctx, message); err != nil {
		logger.Warn("digest delivery failed", "error", err)
	}
}

func buildDigestMessage(findings []domain.Article) string {
	var formatted string
	for _, finding := range findings {
		formatted += fmt.Sprintf("[%s] %s\n%s\n%s\n\n",
			finding.Criticality,
			finding.Title,
			finding.Summary,
			finding.Identity)
	}
	return formatted
}

func dedupeByIdentity(articles []domain.Article) []domain.Article {
	seen := make(map[string]struct{}, len(articles))
	unique := articles[:0]
	for _, article := range articles {
		if _, ok := seen[article.Identity]; ok {
			continue
		}
		seen[article.Identity] = struct{}{}
		unique = append(unique, article)
	}
	return unique
}
