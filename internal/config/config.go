package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"stackwatch/internal/domain"
)

const (
	defaultTimezone = "UTC"

	configPathEnv      = "STACKWATCH_CONFIG"
	databasePathEnv    = "STACKWATCH_DB"
	ollamaHostEnv      = "OLLAMA_HOST"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	githubTokenEnv     = "GITHUB_TOKEN"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Stack         StackConfig        `yaml:"stack"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Embedding     EmbeddingConfig    `yaml:"embedding"`
	LLM           LLMConfig          `yaml:"llm"`
	Sources       []SourceConfig     `yaml:"sources"`
	GitHub        GitHubConfig       `yaml:"github"`
	Report        ReportConfig       `yaml:"report"`
	Notifications NotificationConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Inquisitor    InquisitorConfig   `yaml:"inquisitor"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig locates the SQLite knowledge store file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StackConfig declares what the project cares about; it is the input to the
// stack profile builder.
type StackConfig struct {
	Narrative    string             `yaml:"narrative"`
	Technologies []TechnologyConfig `yaml:"technologies"`
}

// TechnologyConfig describes one declared dependency. Entries sharing a group
// are averaged into a single profile vector.
type TechnologyConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Group       string `yaml:"group"`
}

// AnalysisConfig tunes the relevance filter and the analyzer.
type AnalysisConfig struct {
	// SimilarityThreshold has no default; a run without it is rejected.
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	LookbackHours       int     `yaml:"lookbackHours"`
	Concurrency         int     `yaml:"concurrency"`
	MaxAttempts         int     `yaml:"maxAttempts"`
	RetryBaseMillis     int     `yaml:"retryBaseMillis"`
}

// Lookback resolves the configured window as a duration.
func (a AnalysisConfig) Lookback() time.Duration {
	return time.Duration(a.LookbackHours) * time.Hour
}

// RetryBase resolves the initial backoff delay.
func (a AnalysisConfig) RetryBase() time.Duration {
	return time.Duration(a.RetryBaseMillis) * time.Millisecond
}

// EmbeddingConfig describes the embedding backend.
type EmbeddingConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	Model    string `yaml:"model"`
	MaxChars int    `yaml:"maxChars"`
}

// LLMConfig selects and configures the completion backend.
type LLMConfig struct {
	Provider  string          `yaml:"provider"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// OllamaConfig wires the local chat backend.
type OllamaConfig struct {
	BaseURL     string  `yaml:"baseUrl"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// AnthropicConfig wires the cloud chat backend.
type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// SourceConfig describes a single upstream source with its scanner strategy.
type SourceConfig struct {
	Name      string            `yaml:"name"`
	Scanner   string            `yaml:"scanner"`
	Endpoints []string          `yaml:"endpoints"`
	Options   map[string]string `yaml:"options"`
}

// GitHubConfig carries the optional API token for release scanning.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// ReportConfig controls the rendered run report.
type ReportConfig struct {
	Format         string `yaml:"format"`
	Dir            string `yaml:"dir"`
	MinCriticality string `yaml:"minCriticality"`
}

// Cutoff resolves the reporting criticality floor.
func (r ReportConfig) Cutoff() domain.Criticality {
	if level, ok := domain.ParseCriticality(r.MinCriticality); ok {
		return level
	}
	return domain.CriticalityLow
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires the digest notifier.
type TelegramConfig struct {
	BotToken       string `yaml:"botToken"`
	ChatID         string `yaml:"chatId"`
	MinCriticality string `yaml:"minCriticality"`
}

// Cutoff resolves the notification criticality floor.
func (t TelegramConfig) Cutoff() domain.Criticality {
	if level, ok := domain.ParseCriticality(t.MinCriticality); ok {
		return level
	}
	return domain.CriticalityHigh
}

// SchedulerConfig defines when the watch subcommand runs the pipeline.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// InquisitorConfig tunes the Q&A agent.
type InquisitorConfig struct {
	TopK int `yaml:"topK"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// ValidatePipeline checks everything a scan/watch run requires up front.
func (c Config) ValidatePipeline() error {
	var errs []error

	if c.Analysis.SimilarityThreshold <= 0 || c.Analysis.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("analysis.similarityThreshold %.2f must be set in (0, 1]", c.Analysis.SimilarityThreshold))
	}
	if len(c.Stack.Technologies) == 0 {
		errs = append(errs, fmt.Errorf("stack.technologies: %w", domain.ErrConfigurationEmpty))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.Ollama.Model == "" {
			errs = append(errs, errors.New("llm.ollama.model is required"))
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("llm.anthropic.apiKey is required (or ANTHROPIC_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported (ollama, anthropic)", c.LLM.Provider))
	}

	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv(ollamaHostEnv); v != "" {
		c.Embedding.BaseURL = v
		c.LLM.Ollama.BaseURL = v
	}

	if v := os.Getenv(anthropicAPIKeyEnv); v != "" {
		c.LLM.Anthropic.APIKey = v
	}

	if v := os.Getenv(githubTokenEnv); v != "" {
		c.GitHub.Token = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Stack.Narrative != "" {
		base.Stack.Narrative = override.Stack.Narrative
	}
	if len(override.Stack.Technologies) > 0 {
		base.Stack.Technologies = override.Stack.Technologies
	}

	if override.Analysis.SimilarityThreshold != 0 {
		base.Analysis.SimilarityThreshold = override.Analysis.SimilarityThreshold
	}
	if override.Analysis.LookbackHours != 0 {
		base.Analysis.LookbackHours = override.Analysis.LookbackHours
	}
	if override.Analysis.Concurrency != 0 {
		base.Analysis.Concurrency = override.Analysis.Concurrency
	}
	if override.Analysis.MaxAttempts != 0 {
		base.Analysis.MaxAttempts = override.Analysis.MaxAttempts
	}
	if override.Analysis.RetryBaseMillis != 0 {
		base.Analysis.RetryBaseMillis = override.Analysis.RetryBaseMillis
	}

	if override.Embedding.BaseURL != "" {
		base.Embedding.BaseURL = override.Embedding.BaseURL
	}
	if override.Embedding.Model != "" {
		base.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.MaxChars != 0 {
		base.Embedding.MaxChars = override.Embedding.MaxChars
	}

	if override.LLM.Provider != "" {
		base.LLM.Provider = override.LLM.Provider
	}
	if override.LLM.Ollama.BaseURL != "" {
		base.LLM.Ollama.BaseURL = override.LLM.Ollama.BaseURL
	}
	if override.LLM.Ollama.Model != "" {
		base.LLM.Ollama.Model = override.LLM.Ollama.Model
	}
	if override.LLM.Ollama.Temperature != 0 {
		base.LLM.Ollama.Temperature = override.LLM.Ollama.Temperature
	}
	if override.LLM.Anthropic.APIKey != "" {
		base.LLM.Anthropic.APIKey = override.LLM.Anthropic.APIKey
	}
	if override.LLM.Anthropic.Model != "" {
		base.LLM.Anthropic.Model = override.LLM.Anthropic.Model
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	if override.GitHub.Token != "" {
		base.GitHub = override.GitHub
	}

	if override.Report.Format != "" {
		base.Report.Format = override.Report.Format
	}
	if override.Report.Dir != "" {
		base.Report.Dir = override.Report.Dir
	}
	if override.Report.MinCriticality != "" {
		base.Report.MinCriticality = override.Report.MinCriticality
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Telegram.MinCriticality != "" {
		base.Notifications.Telegram.MinCriticality = override.Notifications.Telegram.MinCriticality
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Inquisitor.TopK != 0 {
		base.Inquisitor.TopK = override.Inquisitor.TopK
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Path: "data/stackwatch.db"},
		Analysis: AnalysisConfig{
			LookbackHours:   24,
			Concurrency:     4,
			MaxAttempts:     3,
			RetryBaseMillis: 500,
		},
		Embedding: EmbeddingConfig{
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
			MaxChars: 2048,
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Ollama: OllamaConfig{
				BaseURL:     "http://localhost:11434",
				Model:       "llama3.1",
				Temperature: 0.2,
			},
			Anthropic: AnthropicConfig{Model: "claude-sonnet-4-20250514"},
		},
		Report: ReportConfig{
			Format:         "csv",
			Dir:            "reports",
			MinCriticality: "LOW",
		},
		Scheduler: SchedulerConfig{
			CronExpression: "0 6 * * *",
			Timezone:       defaultTimezone,
			location:       tz,
		},
		Inquisitor: InquisitorConfig{TopK: 5},
	}
}
