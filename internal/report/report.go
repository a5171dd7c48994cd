// Package report writes run findings to disk for humans and downstream
// tooling.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

// Writer renders stored findings into a CSV or JSON file.
type Writer struct {
	store  ports.KnowledgeStore
	dir    string
	format string
	cutoff domain.Criticality
}

// New configures a report writer. Format is "csv" or "json".
func New(store ports.KnowledgeStore, dir, format string, cutoff domain.Criticality) *Writer {
	return &Writer{store: store, dir: dir, format: format, cutoff: cutoff}
}

// Write renders findings ingested in the given window into a timestamped
// file and returns its path. Findings below the criticality cutoff are
// omitted; the rest are ordered most critical first, newest first within a
// level.
func (w *Writer) Write(ctx context.Context, since time.Time) (string, error) {
	articles, err := w.store.AllSince(ctx, since)
	if err != nil {
		return "", fmt.Errorf("load findings: %w", err)
	}

	findings := make([]domain.Article, 0, len(articles))
	for _, article := range articles {
		if article.Analyzed() && article.Criticality >= w.cutoff {
			findings = append(findings, article)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Criticality != findings[j].Criticality {
			return findings[i].Criticality > findings[j].Criticality
		}
		return findings[i].IngestedAt.After(findings[j].IngestedAt)
	})

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	switch w.format {
	case "json":
		return w.writeJSON(findings, stamp)
	case "csv", "":
		return w.writeCSV(findings, stamp)
	default:
		return "", fmt.Errorf("unknown report format %q", w.format)
	}
}

func (w *Writer) writeCSV(findings []domain.Article, stamp string) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("report-%s.csv", stamp))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"title", "link", "source", "criticality", "summary", "ingested_at"}); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, finding := range findings {
		record := []string{
			finding.Title,
			finding.Identity,
			finding.Source,
			finding.Criticality.String(),
			finding.Summary,
			finding.IngestedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("write record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("flush report: %w", err)
	}
	return path, nil
}

type jsonFinding struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Source      string `json:"source"`
	Criticality string `json:"criticality"`
	Summary     string `json:"summary"`
	IngestedAt  string `json:"ingestedAt"`
}

func (w *Writer) writeJSON(findings []domain.Article, stamp string) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("report-%s.json", stamp))

	payload := make([]jsonFinding, 0, len(findings))
	for _, finding := range findings {
		payload = append(payload, jsonFinding{
			Title:       finding.Title,
			Link:        finding.Identity,
			Source:      finding.Source,
			Criticality: finding.Criticality.String(),
			Summary:     finding.Summary,
			IngestedAt:  finding.IngestedAt.Format(time.RFC3339),
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return path, nil
}
