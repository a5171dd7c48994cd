package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stackwatch/internal/domain"
	"stackwatch/internal/scanner"
)

const releaseBodyLimit = 800

// GitHubScanner reads release announcements through the GitHub REST API.
// Endpoints are "owner/repo" slugs; an optional token raises the rate limit.
type GitHubScanner struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewGitHubScanner wires an HTTP client and an optional API token.
func NewGitHubScanner(client *http.Client, token string, logger *slog.Logger) *GitHubScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubScanner{
		client:  client,
		baseURL: "https://api.github.com",
		token:   token,
		logger:  logger,
	}
}

// Name identifies the strategy inside the registry.
func (g *GitHubScanner) Name() string {
	return "github-releases"
}

type githubRelease struct {
	Name        string    `json:"name"`
	TagName     string    `json:"tag_name"`
	HTMLURL     string    `json:"html_url"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// Scan fetches the recent releases of each configured repository. A failing
// repository is logged and skipped; the source only errors when every
// repository failed.
func (g *GitHubScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Article, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("no repositories for source %s", req.SourceName)
	}

	includePrereleases := req.Options["prereleases"] == "true"

	var (
		results []domain.Article
		failed  int
		lastErr error
	)
	for _, repo := range req.Endpoints {
		releases, err := g.fetchReleases(ctx, repo)
		if err != nil {
			g.logger.Warn("repository fetch failed, skipping it",
				"source", req.SourceName, "repo", repo, "error", err)
			failed++
			lastErr = err
			continue
		}

		for _, release := range releases {
			if release.Draft {
				continue
			}
			if release.Prerelease && !includePrereleases {
				continue
			}
			if !req.Since.IsZero() && release.PublishedAt.Before(req.Since) {
				continue
			}

			title := strings.TrimSpace(release.Name)
			if title == "" {
				title = release.TagName
			}

			results = append(results, domain.Article{
				Identity:    release.HTMLURL,
				Title:       fmt.Sprintf("%s: %s", repo, title),
				Excerpt:     truncateBody(release.Body),
				Source:      req.SourceName,
				PublishedAt: release.PublishedAt.UTC(),
			})
		}
	}

	if failed == len(req.Endpoints) {
		return nil, fmt.Errorf("all %d repositories failed, last: %w", failed, lastErr)
	}
	return results, nil
}

func (g *GitHubScanner) fetchReleases(ctx context.Context, repo string) ([]githubRelease, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/releases?per_page=20", g.baseURL, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "stackwatch/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github returned %s", resp.Status)
	}

	var releases []githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decode releases: %w", err)
	}
	return releases, nil
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= releaseBodyLimit {
		return body
	}
	return string(runes[:releaseBodyLimit])
}
