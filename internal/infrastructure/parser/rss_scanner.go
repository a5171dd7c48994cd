package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"stackwatch/internal/domain"
	"stackwatch/internal/scanner"
)

// RSSScanner fetches RSS 2.0 and Atom feeds and normalizes their entries.
type RSSScanner struct {
	client *http.Client
	logger *slog.Logger
}

// NewRSSScanner wires an HTTP client with a sane default timeout.
func NewRSSScanner(client *http.Client, logger *slog.Logger) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RSSScanner{client: client, logger: logger}
}

// Name identifies the strategy inside the registry.
func (r *RSSScanner) Name() string {
	return "rss"
}

// feedEnvelope covers both RSS 2.0 (<rss><channel><item>) and Atom
// (<feed><entry>) documents in one shape.
type feedEnvelope struct {
	XMLName xml.Name
	Channel struct {
		Items []feedItem `xml:"item"`
	} `xml:"channel"`
	Entries []feedItem `xml:"entry"`
}

type feedItem struct {
	Title       string     `xml:"title"`
	Links       []feedLink `xml:"link"`
	GUID        string     `xml:"guid"`
	ID          string     `xml:"id"`
	Description string     `xml:"description"`
	Summary     string     `xml:"summary"`
	Content     string     `xml:"encoded"`
	AtomContent string     `xml:"content"`
	PubDate     string     `xml:"pubDate"`
	Published   string     `xml:"published"`
	Updated     string     `xml:"updated"`
}

// feedLink covers RSS links (chardata) and Atom links (href attribute).
type feedLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Text string `xml:",chardata"`
}

// Scan walks each feed endpoint and returns the entries published at or
// after the cutoff. A failing endpoint is logged and skipped; the source
// only errors when every endpoint failed.
func (r *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Article, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("no feed endpoints for source %s", req.SourceName)
	}

	var (
		results []domain.Article
		failed  int
		lastErr error
	)
	seen := map[string]struct{}{}

	for _, endpoint := range req.Endpoints {
		feed, err := r.fetchFeed(ctx, endpoint)
		if err != nil {
			r.logger.Warn("feed endpoint failed, skipping it",
				"source", req.SourceName, "endpoint", endpoint, "error", err)
			failed++
			lastErr = err
			continue
		}

		items := feed.Channel.Items
		if len(items) == 0 {
			items = feed.Entries
		}

		for _, item := range items {
			article, ok := normalizeItem(item, endpoint, req.SourceName, req.Since)
			if !ok {
				continue
			}
			if _, dup := seen[article.Identity]; dup {
				continue
			}
			seen[article.Identity] = struct{}{}
			results = append(results, article)
		}
	}

	if failed == len(req.Endpoints) {
		return nil, fmt.Errorf("all %d feed endpoints failed, last: %w", failed, lastErr)
	}
	return results, nil
}

func (r *RSSScanner) fetchFeed(ctx context.Context, endpoint string) (*feedEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "stackwatch/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	var feed feedEnvelope
	decoder := xml.NewDecoder(resp.Body)
	decoder.Strict = false
	if err := decoder.Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return &feed, nil
}

func normalizeItem(item feedItem, endpoint, sourceName string, since time.Time) (domain.Article, bool) {
	link := itemLink(item, endpoint)
	if link == "" {
		return domain.Article{}, false
	}

	publishedAt := itemPublishedAt(item)
	if !since.IsZero() && !publishedAt.IsZero() && publishedAt.Before(since) {
		return domain.Article{}, false
	}

	title := strings.TrimSpace(stripHTML(item.Title))
	if title == "" {
		return domain.Article{}, false
	}

	return domain.Article{
		Identity:    link,
		Title:       title,
		Excerpt:     itemExcerpt(item),
		Source:      sourceName,
		PublishedAt: publishedAt,
	}, true
}

// itemLink prefers the entry's canonical link, resolving relative hrefs
// against the feed endpoint.
func itemLink(item feedItem, endpoint string) string {
	var candidate string
	for _, l := range item.Links {
		if l.Rel != "" && l.Rel != "alternate" {
			continue
		}
		if text := strings.TrimSpace(l.Text); text != "" {
			candidate = text
			break
		}
		if href := strings.TrimSpace(l.Href); href != "" {
			candidate = href
			break
		}
	}
	if candidate == "" {
		candidate = strings.TrimSpace(item.GUID)
	}
	if candidate == "" {
		candidate = strings.TrimSpace(item.ID)
	}
	if candidate == "" {
		return ""
	}

	if strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://") {
		return candidate
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return candidate
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return candidate
	}
	return base.ResolveReference(ref).String()
}

// itemExcerpt picks the richest body field available and strips its markup.
func itemExcerpt(item feedItem) string {
	for _, body := range []string{item.Content, item.AtomContent, item.Summary, item.Description} {
		if text := strings.TrimSpace(stripHTML(body)); text != "" {
			return text
		}
	}
	return ""
}

func itemPublishedAt(item feedItem) time.Time {
	for _, raw := range []string{item.PubDate, item.Published, item.Updated} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if parsed, err := dateparse.ParseAny(raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// stripHTML flattens embedded markup into plain text. Feeds routinely ship
// full HTML bodies in description fields.
func stripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
