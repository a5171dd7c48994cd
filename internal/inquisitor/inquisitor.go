// Package inquisitor answers questions about the collected knowledge base.
// Each question is grounded in the stored articles closest to it; the model
// is told to answer from that context only.
package inquisitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

const answerSystemPrompt = `You are an assistant answering questions about technology news
collected for a software project. Use ONLY the numbered context articles
below the question. If the context does not contain the answer, say so
plainly instead of guessing. Reference articles by their number.`

// Agent retrieves relevant articles and asks the model for a grounded answer.
type Agent struct {
	embedder  ports.Embedder
	store     ports.KnowledgeStore
	completer ports.Completer
	topK      int
	logger    *slog.Logger
}

// New wires the retrieval and completion dependencies.
func New(embedder ports.Embedder, store ports.KnowledgeStore, completer ports.Completer, topK int, logger *slog.Logger) *Agent {
	if topK < 1 {
		topK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		embedder:  embedder,
		store:     store,
		completer: completer,
		topK:      topK,
		logger:    logger,
	}
}

// Answer resolves one question. A failed turn returns an error and leaves no
// state behind, so an interactive session simply moves on to the next
// question.
func (a *Agent) Answer(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is empty")
	}

	embedding, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}

	matches, err := a.store.Nearest(ctx, embedding, a.topK)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}
	if len(matches) == 0 {
		return "The knowledge base is empty; run a scan first.", nil
	}

	a.logger.Debug("retrieved context", "question_len", len(question), "matches", len(matches))

	reply, err := a.completer.Complete(ctx, ports.CompletionRequest{
		System: answerSystemPrompt,
		Prompt: buildQuestionPrompt(question, matches),
	})
	if err != nil {
		return "", fmt.Errorf("answer question: %w", err)
	}

	return strings.TrimSpace(reply), nil
}

func buildQuestionPrompt(question string, matches []domain.ScoredArticle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n\nContext articles:\n", question)
	for i, match := range matches {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, match.Title)
		if match.Criticality != domain.CriticalityNone {
			fmt.Fprintf(&b, "Criticality: %s\n", match.Criticality)
		}
		if match.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", match.Summary)
		} else if match.Excerpt != "" {
			fmt.Fprintf(&b, "Excerpt: %s\n", match.Excerpt)
		}
		if !match.PublishedAt.IsZero() {
			fmt.Fprintf(&b, "Published: %s\n", match.PublishedAt.Format(time.DateOnly))
		}
		fmt.Fprintf(&b, "Link: %s\n", match.Identity)
	}

	return b.String()
}
