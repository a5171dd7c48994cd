package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

type fakeStore struct {
	ports.KnowledgeStore
	articles []domain.Article
}

func (f *fakeStore) AllSince(context.Context, time.Time) ([]domain.Article, error) {
	return f.articles, nil
}

func analyzedArticle(identity string, level domain.Criticality, ingested time.Time) domain.Article {
	at := ingested
	return domain.Article{
		Identity:    identity,
		Title:       "title " + identity,
		Source:      "rss",
		Criticality: level,
		Summary:     "summary",
		IngestedAt:  ingested,
		AnalyzedAt:  &at,
	}
}

func TestWriteCSVFiltersAndOrders(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{articles: []domain.Article{
		analyzedArticle("low", domain.CriticalityLow, base),
		analyzedArticle("critical", domain.CriticalityCritical, base),
		analyzedArticle("high-old", domain.CriticalityHigh, base.Add(-time.Hour)),
		analyzedArticle("high-new", domain.CriticalityHigh, base.Add(time.Hour)),
		{Identity: "pending", Title: "pending", IngestedAt: base},
	}}

	writer := New(store, t.TempDir(), "csv", domain.CriticalityHigh)
	path, err := writer.Write(context.Background(), base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	// Header plus three findings at or above HIGH; LOW and unanalyzed rows
	// are dropped.
	if len(records) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(records))
	}
	if records[0][0] != "title" {
		t.Fatalf("unexpected header %v", records[0])
	}
	order := []string{"critical", "high-new", "high-old"}
	for i, want := range order {
		if records[i+1][1] != want {
			t.Fatalf("row %d: expected %s, got %s", i+1, want, records[i+1][1])
		}
	}
	if records[1][3] != "CRITICAL" {
		t.Fatalf("criticality must render as its name, got %q", records[1][3])
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{articles: []domain.Article{
		analyzedArticle("a", domain.CriticalityMedium, base),
	}}

	writer := New(store, t.TempDir(), "json", domain.CriticalityLow)
	path, err := writer.Write(context.Background(), base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(path, ".json") {
		t.Fatalf("expected json file, got %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded []map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["criticality"] != "MEDIUM" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	writer := New(&fakeStore{}, t.TempDir(), "xml", domain.CriticalityLow)
	if _, err := writer.Write(context.Background(), time.Time{}); err == nil {
		t.Fatal("unknown format must fail")
	}
}
