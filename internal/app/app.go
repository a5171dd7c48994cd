// Package app wires configuration into the runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stackwatch/internal/analysis"
	"stackwatch/internal/config"
	"stackwatch/internal/infrastructure/embed"
	"stackwatch/internal/infrastructure/fetch"
	"stackwatch/internal/infrastructure/llm"
	"stackwatch/internal/infrastructure/parser"
	"stackwatch/internal/infrastructure/scheduler"
	"stackwatch/internal/infrastructure/storage"
	"stackwatch/internal/infrastructure/telegram"
	"stackwatch/internal/inquisitor"
	"stackwatch/internal/logging"
	"stackwatch/internal/ports"
	"stackwatch/internal/profile"
	"stackwatch/internal/report"
	"stackwatch/internal/retry"
	"stackwatch/internal/scanner"
	"stackwatch/internal/usecase"
)

// Application owns the wired components and the store lifecycle.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	pipeline *usecase.Pipeline
	agent    *inquisitor.Agent
	reporter *report.Writer
}

// New validates the configuration, opens the knowledge store, and wires all
// adapters.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if cfg.Database.Path == "" || cfg.Embedding.Model == "" {
		return nil, fmt.Errorf("configuration: database.path and embedding.model are required")
	}

	store, err := storage.Open(ctx, cfg.Database.Path, cfg.Embedding.Model,
		baseLogger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}

	// Every embed caller shares the bounded retry policy around the client.
	embedder := retry.NewEmbedder(
		embed.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.MaxChars),
		cfg.Analysis.MaxAttempts, cfg.Analysis.RetryBase())
	completer, err := newCompleter(cfg.LLM)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewRSSScanner(nil, baseLogger.With("component", "scanner.rss")))
	registry.Register(parser.NewGitHubScanner(nil, cfg.GitHub.Token, baseLogger.With("component", "scanner.github")))
	source := parser.NewStrategySource(registry, cfg.Sources, baseLogger.With("component", "source"))

	analyzer := analysis.New(completer, fetch.NewReadabilityDownloader(), analysis.Options{
		StackBrief:  stackBrief(cfg.Stack),
		MaxAttempts: cfg.Analysis.MaxAttempts,
		RetryBase:   cfg.Analysis.RetryBase(),
	}, baseLogger.With("component", "analyzer"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:       source,
		Store:        store,
		Embedder:     embedder,
		Analyzer:     analyzer,
		Profile:      profile.NewBuilder(embedder, baseLogger.With("component", "profile")),
		Notifier:     notifier,
		Stack:        cfg.Stack,
		Threshold:    cfg.Analysis.SimilarityThreshold,
		Lookback:     cfg.Analysis.Lookback(),
		Concurrency:  cfg.Analysis.Concurrency,
		DigestCutoff: cfg.Notifications.Telegram.Cutoff(),
		Logger:       baseLogger.With("component", "pipeline"),
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		pipeline: pipeline,
		agent: inquisitor.New(embedder, store, completer, cfg.Inquisitor.TopK,
			baseLogger.With("component", "inquisitor")),
		reporter: report.New(store, cfg.Report.Dir, cfg.Report.Format, cfg.Report.Cutoff()),
	}, nil
}

// Close releases the knowledge store.
func (a *Application) Close() error {
	return a.store.Close()
}

// Scan executes one ingestion run. The full pipeline configuration is
// checked up front so a misconfigured run fails before anything is written.
func (a *Application) Scan(ctx context.Context, retryFailed bool) (usecase.RunStats, error) {
	if err := a.cfg.ValidatePipeline(); err != nil {
		return usecase.RunStats{}, fmt.Errorf("configuration: %w", err)
	}
	return a.pipeline.Run(ctx, usecase.RunOptions{RetryFailed: retryFailed})
}

// Watch runs the pipeline on the configured cron schedule until the context
// is cancelled.
func (a *Application) Watch(ctx context.Context) error {
	if err := a.cfg.ValidatePipeline(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location())
	runner := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start schedule: %w", err)
	}
	a.logger.Info("watching on schedule", "cron", a.cfg.Scheduler.CronExpression,
		"timezone", a.cfg.Scheduler.Location().String())

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return runner.Stop(stopCtx)
}

// Answer resolves one question against the knowledge base.
func (a *Application) Answer(ctx context.Context, question string) (string, error) {
	return a.agent.Answer(ctx, question)
}

// Report renders findings from the given window and returns the file path.
func (a *Application) Report(ctx context.Context, since time.Time) (string, error) {
	return a.reporter.Write(ctx, since)
}

func newCompleter(cfg config.LLMConfig) (ports.Completer, error) {
	switch cfg.Provider {
	case "ollama":
		return llm.NewOllamaClient(cfg.Ollama), nil
	case "anthropic":
		return llm.NewAnthropicClient(cfg.Anthropic), nil
	default:
		return nil, fmt.Errorf("llm provider %q is not supported", cfg.Provider)
	}
}

// stackBrief flattens the declared stack into one line for analysis prompts.
func stackBrief(stack config.StackConfig) string {
	names := make([]string, 0, len(stack.Technologies))
	for _, tech := range stack.Technologies {
		names = append(names, tech.Name)
	}

	brief := strings.Join(names, ", ")
	if stack.Narrative != "" {
		if brief != "" {
			return stack.Narrative + " Stack: " + brief
		}
		return stack.Narrative
	}
	return brief
}
