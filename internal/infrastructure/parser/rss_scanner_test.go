package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stackwatch/internal/scanner"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Release Feed</title>
  <item>
    <title>PostgreSQL 17.2 released</title>
    <link>https://example.com/pg-17-2</link>
    <description>&lt;p&gt;Fixes a &lt;b&gt;data corruption&lt;/b&gt; bug.&lt;/p&gt;</description>
    <pubDate>Mon, 17 Aug 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Old news</title>
    <link>https://example.com/old</link>
    <description>stale</description>
    <pubDate>Mon, 05 Jan 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>PostgreSQL 17.2 released</title>
    <link>https://example.com/pg-17-2</link>
    <description>duplicate entry</description>
    <pubDate>Mon, 17 Aug 2026 11:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Project Blog</title>
  <entry>
    <title>New driver release</title>
    <link rel="alternate" href="/posts/driver"/>
    <id>tag:example.com,2026:driver</id>
    <summary>A new driver version is out.</summary>
    <published>2026-08-18T09:00:00Z</published>
  </entry>
</feed>`

func TestRSSScanFiltersAndDeduplicates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	rss := NewRSSScanner(server.Client(), nil)
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	articles, err := rss.Scan(context.Background(), scanner.Request{
		Since:      since,
		SourceName: "releases",
		Endpoints:  []string{server.URL},
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(articles) != 1 {
		t.Fatalf("expected 1 article after cutoff and dedup, got %d", len(articles))
	}

	got := articles[0]
	if got.Identity != "https://example.com/pg-17-2" {
		t.Fatalf("unexpected identity %q", got.Identity)
	}
	if got.Title != "PostgreSQL 17.2 released" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	if got.Excerpt != "Fixes a data corruption bug." {
		t.Fatalf("HTML must be stripped from excerpt, got %q", got.Excerpt)
	}
	if got.Source != "releases" {
		t.Fatalf("unexpected source %q", got.Source)
	}
	if !got.PublishedAt.Equal(time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published time %v", got.PublishedAt)
	}
}

func TestRSSScanAtomRelativeLinks(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(sampleAtom))
	}))
	defer server.Close()

	rss := NewRSSScanner(server.Client(), nil)
	articles, err := rss.Scan(context.Background(), scanner.Request{
		SourceName: "blog",
		Endpoints:  []string{server.URL + "/feed.xml"},
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	if articles[0].Identity != server.URL+"/posts/driver" {
		t.Fatalf("relative link must resolve against the feed, got %q", articles[0].Identity)
	}
	if articles[0].Excerpt != "A new driver version is out." {
		t.Fatalf("unexpected excerpt %q", articles[0].Excerpt)
	}
}

func TestRSSScanSkipsFailingEndpoint(t *testing.T) {
	t.Parallel()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer broken.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(sampleAtom))
	}))
	defer healthy.Close()

	rss := NewRSSScanner(nil, nil)
	articles, err := rss.Scan(context.Background(), scanner.Request{
		SourceName: "blogs",
		Endpoints:  []string{broken.URL, healthy.URL + "/feed.xml"},
	})
	if err != nil {
		t.Fatalf("one broken endpoint must not fail the source: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("healthy endpoint results lost, got %d articles", len(articles))
	}
}

func TestRSSScanFeedFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	rss := NewRSSScanner(server.Client(), nil)
	_, err := rss.Scan(context.Background(), scanner.Request{
		SourceName: "releases",
		Endpoints:  []string{server.URL},
	})
	if err == nil {
		t.Fatal("expected error from failing feed")
	}
}
