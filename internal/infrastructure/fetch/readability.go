// Package fetch pulls the full text of an article page for deeper analysis.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

// ReadabilityDownloader fetches the article URL and extracts the readable
// body text, dropping navigation and boilerplate.
type ReadabilityDownloader struct {
	http *http.Client
}

var _ ports.Downloader = (*ReadabilityDownloader)(nil)

func NewReadabilityDownloader() *ReadabilityDownloader {
	return &ReadabilityDownloader{
		http: &http.Client{Timeout: 20 * time.Second},
	}
}

// Download returns the extracted text content of the article's page. Callers
// treat any error as a soft failure and analyze the excerpt instead.
func (d *ReadabilityDownloader) Download(ctx context.Context, article domain.Article) (string, error) {
	pageURL, err := url.Parse(article.Identity)
	if err != nil {
		return "", fmt.Errorf("parse article url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "stackwatch/1.0")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	parsed, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", fmt.Errorf("extract readable text: %w", err)
	}

	text := strings.TrimSpace(parsed.TextContent)
	if text == "" {
		return "", fmt.Errorf("page %s has no readable text", pageURL)
	}
	return text, nil
}
