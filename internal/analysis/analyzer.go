// Package analysis assigns each accepted article a bounded criticality
// verdict by asking the configured language model exactly once per article.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
	"stackwatch/internal/retry"
)

// fullTextBudget bounds how much fetched page text goes into the prompt.
const fullTextBudget = 6000

const systemPrompt = `You are an assistant for a software tech lead. You read technology news
and judge how urgently each item matters to the project's declared stack.

Criticality levels:
- CRITICAL: actively exploited vulnerability, data-loss bug, or forced
  breaking change in a dependency the project uses.
- HIGH: disclosed security vulnerability, deprecation with a deadline, or
  a breaking release of a direct dependency.
- MEDIUM: notable release with migration work, performance regressions,
  or ecosystem changes worth scheduling.
- LOW: routine release notes, minor updates, general ecosystem news.
- NONE is never a valid answer; pick the closest level.

Respond ONLY with a single JSON object:
{"criticality": "<LEVEL>", "summary": "<one or two sentences>"}`

// Analyzer produces verdicts for accepted articles.
type Analyzer struct {
	completer   ports.Completer
	downloader  ports.Downloader
	stackBrief  string
	maxAttempts int
	retryBase   time.Duration
	logger      *slog.Logger
}

// Options collects the analyzer's tunables.
type Options struct {
	// StackBrief is a short description of the project stack, included in
	// every prompt so the model judges against the right context.
	StackBrief  string
	MaxAttempts int
	RetryBase   time.Duration
}

// New wires the LLM client and the optional full-text downloader.
func New(completer ports.Completer, downloader ports.Downloader, opts Options, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	return &Analyzer{
		completer:   completer,
		downloader:  downloader,
		stackBrief:  opts.StackBrief,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		logger:      logger,
	}
}

// Analyze fetches the article's full text when possible, asks the model for
// a verdict, and parses the reply. An unparseable reply degrades to LOW with
// the raw text preserved as the summary; the article is never dropped for
// that. Retryable backend failures are retried with exponential backoff, and
// exhaustion surfaces as an error wrapping domain.ErrModelUnavailable so the
// caller can leave the row flagged for a later pass.
func (a *Analyzer) Analyze(ctx context.Context, article domain.Article) (domain.Verdict, error) {
	fullText := ""
	if a.downloader != nil {
		text, err := a.downloader.Download(ctx, article)
		if err != nil {
			a.logger.Warn("full-text fetch failed, analyzing excerpt only",
				"identity", article.Identity, "error", err)
		} else {
			fullText = text
		}
	}

	prompt := buildPrompt(article, fullText, a.stackBrief)

	var raw string
	err := retry.Do(ctx, a.maxAttempts, a.retryBase, func(ctx context.Context) error {
		reply, err := a.completer.Complete(ctx, ports.CompletionRequest{
			System:    systemPrompt,
			Prompt:    prompt,
			ForceJSON: true,
		})
		if err != nil {
			return err
		}
		raw = reply
		return nil
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("analyze %s: %w", article.Identity, err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		a.logger.Warn("verdict did not parse, degrading to LOW",
			"identity", article.Identity, "error", err)
		return domain.Verdict{
			Criticality: domain.CriticalityLow,
			Summary:     strings.TrimSpace(raw),
		}, nil
	}
	return verdict, nil
}

func buildPrompt(article domain.Article, fullText, stackBrief string) string {
	var b strings.Builder

	if stackBrief != "" {
		b.WriteString("Project stack: ")
		b.WriteString(stackBrief)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Title: %s\nSource: %s\nPublished: %s\n\nExcerpt:\n%s\n",
		article.Title, article.Source, article.PublishedAt.Format(time.RFC3339), article.Excerpt)

	if fullText != "" {
		runes := []rune(fullText)
		if len(runes) > fullTextBudget {
			runes = runes[:fullTextBudget]
		}
		fmt.Fprintf(&b, "\nArticle text:\n%s\n", string(runes))
	}

	b.WriteString("\nJudge this article's criticality for the project.")
	return b.String()
}

type rawVerdict struct {
	Criticality string `json:"criticality"`
	Summary     string `json:"summary"`
}

// parseVerdict extracts the JSON verdict from the model reply. Replies
// wrapped in markdown code fences are unwrapped first.
func parseVerdict(raw string) (domain.Verdict, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return domain.Verdict{}, fmt.Errorf("no JSON object in reply: %w", domain.ErrParseFailure)
	}

	var decoded rawVerdict
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return domain.Verdict{}, fmt.Errorf("decode verdict: %v: %w", err, domain.ErrParseFailure)
	}

	level, ok := domain.ParseCriticality(decoded.Criticality)
	if !ok || level == domain.CriticalityNone {
		return domain.Verdict{}, fmt.Errorf("unknown criticality %q: %w", decoded.Criticality, domain.ErrParseFailure)
	}

	return domain.Verdict{Criticality: level, Summary: strings.TrimSpace(decoded.Summary)}, nil
}

func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)

	if start := strings.Index(trimmed, "```"); start >= 0 {
		rest := trimmed[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			trimmed = rest[:end]
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return ""
	}
	return trimmed[start : end+1]
}
