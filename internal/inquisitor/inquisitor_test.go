package inquisitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeStore struct {
	ports.KnowledgeStore
	matches []domain.ScoredArticle
	gotK    int
}

func (f *fakeStore) Nearest(_ context.Context, _ []float32, k int) ([]domain.ScoredArticle, error) {
	f.gotK = k
	return f.matches, nil
}

type fakeCompleter struct {
	reply   string
	err     error
	lastReq ports.CompletionRequest
	calls   int
}

func (f *fakeCompleter) Complete(_ context.Context, req ports.CompletionRequest) (string, error) {
	f.calls++
	f.lastReq = req
	return f.reply, f.err
}

func storedMatch(title, summary string) domain.ScoredArticle {
	return domain.ScoredArticle{
		Article: domain.Article{
			Identity:    "https://example.com/" + title,
			Title:       title,
			Summary:     summary,
			Criticality: domain.CriticalityHigh,
			PublishedAt: time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
		},
		Score: 0.9,
	}
}

func TestAnswerGroundsPromptInRetrievedArticles(t *testing.T) {
	t.Parallel()

	store := &fakeStore{matches: []domain.ScoredArticle{
		storedMatch("pg-release", "PostgreSQL 17.2 fixes corruption."),
		storedMatch("driver-cve", "Driver vulnerability disclosed."),
	}}
	completer := &fakeCompleter{reply: "Yes, see [1]."}
	agent := New(&fakeEmbedder{}, store, completer, 3, nil)

	answer, err := agent.Answer(context.Background(), "anything about postgres?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer != "Yes, see [1]." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if store.gotK != 3 {
		t.Fatalf("topK not forwarded, got %d", store.gotK)
	}

	prompt := completer.lastReq.Prompt
	if !strings.Contains(prompt, "[1] pg-release") || !strings.Contains(prompt, "[2] driver-cve") {
		t.Fatalf("context articles missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "PostgreSQL 17.2 fixes corruption.") {
		t.Fatal("summary missing from prompt")
	}
	if !strings.Contains(prompt, "anything about postgres?") {
		t.Fatal("question missing from prompt")
	}
}

func TestAnswerEmptyStoreShortCircuits(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{}
	agent := New(&fakeEmbedder{}, &fakeStore{}, completer, 5, nil)

	answer, err := agent.Answer(context.Background(), "anything new?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !strings.Contains(answer, "empty") {
		t.Fatalf("expected empty-store notice, got %q", answer)
	}
	if completer.calls != 0 {
		t.Fatal("no model call allowed when nothing was retrieved")
	}
}

func TestAnswerFailuresSurface(t *testing.T) {
	t.Parallel()

	agent := New(&fakeEmbedder{err: domain.ErrModelUnavailable}, &fakeStore{}, &fakeCompleter{}, 5, nil)
	if _, err := agent.Answer(context.Background(), "q"); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected embed failure to surface, got %v", err)
	}

	store := &fakeStore{matches: []domain.ScoredArticle{storedMatch("a", "s")}}
	agent = New(&fakeEmbedder{}, store, &fakeCompleter{err: domain.ErrModelUnavailable}, 5, nil)
	if _, err := agent.Answer(context.Background(), "q"); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected completion failure to surface, got %v", err)
	}

	if _, err := agent.Answer(context.Background(), "   "); err == nil {
		t.Fatal("blank question must be rejected")
	}
}
