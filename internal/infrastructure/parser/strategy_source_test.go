package parser

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"stackwatch/internal/config"
	"stackwatch/internal/domain"
	"stackwatch/internal/scanner"
)

type stubScanner struct {
	name     string
	articles []domain.Article
	err      error
	gotSince time.Time
}

func (s *stubScanner) Name() string { return s.name }

func (s *stubScanner) Scan(_ context.Context, req scanner.Request) ([]domain.Article, error) {
	s.gotSince = req.Since
	return s.articles, s.err
}

func TestFetchSinceSkipsFailingSource(t *testing.T) {
	t.Parallel()

	healthy := &stubScanner{name: "rss", articles: []domain.Article{
		{Identity: "https://a", Title: "a"},
	}}
	broken := &stubScanner{name: "github-releases", err: errors.New("rate limited")}

	reg := scanner.NewRegistry()
	reg.Register(healthy)
	reg.Register(broken)

	source := NewStrategySource(reg, []config.SourceConfig{
		{Name: "broken", Scanner: "github-releases"},
		{Name: "blogs", Scanner: "rss"},
	}, slog.Default())

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	articles, err := source.FetchSince(context.Background(), since)
	if err != nil {
		t.Fatalf("one broken source must not fail the run: %v", err)
	}
	if len(articles) != 1 || articles[0].Identity != "https://a" {
		t.Fatalf("unexpected articles: %+v", articles)
	}
	if articles[0].Source != "blogs" {
		t.Fatalf("source name must be backfilled, got %q", articles[0].Source)
	}
	if !healthy.gotSince.Equal(since) {
		t.Fatalf("cutoff not forwarded, got %v", healthy.gotSince)
	}
}

func TestFetchSinceSkipsUnknownScanner(t *testing.T) {
	t.Parallel()

	source := NewStrategySource(scanner.NewRegistry(), []config.SourceConfig{
		{Name: "mystery", Scanner: "does-not-exist"},
	}, slog.Default())

	articles, err := source.FetchSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unknown scanner must be skipped: %v", err)
	}
	if len(articles) != 0 {
		t.Fatalf("expected no articles, got %d", len(articles))
	}
}
