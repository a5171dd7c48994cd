package parser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stackwatch/internal/config"
	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
	"stackwatch/internal/scanner"
)

// StrategySource implements ArticleSource via registered scanner strategies.
// A failing source is logged and skipped; one broken feed never aborts the
// whole run.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	logger   *slog.Logger
}

var _ ports.ArticleSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, log *slog.Logger) *StrategySource {
	if log == nil {
		log = slog.Default()
	}
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log,
	}
}

// FetchSince iterates over configured sources and collects everything
// published at or after the cutoff.
func (s *StrategySource) FetchSince(ctx context.Context, since time.Time) ([]domain.Article, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.logger.Debug("fetch since", "sources", len(s.sources), "cutoff", since.Format(time.RFC3339))

	var aggregated []domain.Article
	for _, source := range s.sources {
		strategy, err := s.registry.Resolve(source.Scanner)
		if err != nil {
			s.logger.Warn("skipping source", "source", source.Name, "error", err)
			continue
		}

		results, err := strategy.Scan(ctx, scanner.Request{
			Since:      since,
			SourceName: source.Name,
			Endpoints:  source.Endpoints,
			Options:    source.Options,
		})
		if err != nil {
			s.logger.Warn("source fetch failed, continuing without it",
				"source", source.Name, "error", err)
			continue
		}

		for i := range results {
			if results[i].Source == "" {
				results[i].Source = source.Name
			}
		}
		s.logger.Debug("source produced articles", "source", source.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	s.logger.Debug("strategy source done", "total_articles", len(aggregated))
	return aggregated, nil
}
