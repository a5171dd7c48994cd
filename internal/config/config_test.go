package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stackwatch/internal/domain"
)

func validConfig() Config {
	cfg := defaultConfig()
	cfg.Analysis.SimilarityThreshold = 0.35
	cfg.Stack.Technologies = []TechnologyConfig{{Name: "PostgreSQL"}}
	return cfg
}

func TestValidatePipelineAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().ValidatePipeline(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidatePipelineEmptyStack(t *testing.T) {
	cfg := validConfig()
	cfg.Stack.Technologies = nil

	err := cfg.ValidatePipeline()
	if !errors.Is(err, domain.ErrConfigurationEmpty) {
		t.Fatalf("expected ErrConfigurationEmpty, got %v", err)
	}
}

func TestValidatePipelineThresholdBounds(t *testing.T) {
	for _, threshold := range []float64{0, -0.5, 1.5} {
		cfg := validConfig()
		cfg.Analysis.SimilarityThreshold = threshold
		if err := cfg.ValidatePipeline(); err == nil {
			t.Fatalf("threshold %f must be rejected", threshold)
		}
	}
}

func TestValidatePipelineProviderRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Anthropic.APIKey = ""
	if err := cfg.ValidatePipeline(); err == nil {
		t.Fatal("anthropic without api key must be rejected")
	}

	cfg.LLM.Provider = "gpt4all"
	if err := cfg.ValidatePipeline(); err == nil {
		t.Fatal("unknown provider must be rejected")
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
analysis:
  similarityThreshold: 0.4
stack:
  narrative: Backend service
  technologies:
    - name: PostgreSQL
      description: primary database
sources:
  - name: blogs
    scanner: rss
    endpoints: ["https://example.com/feed.xml"]
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(configPathEnv, path)
	t.Setenv(databasePathEnv, "/tmp/override.db")
	t.Setenv(anthropicAPIKeyEnv, "key-from-env")

	cfg := Load()

	if cfg.Analysis.SimilarityThreshold != 0.4 {
		t.Fatalf("file threshold not applied: %f", cfg.Analysis.SimilarityThreshold)
	}
	if len(cfg.Stack.Technologies) != 1 || cfg.Stack.Technologies[0].Name != "PostgreSQL" {
		t.Fatalf("stack not loaded: %+v", cfg.Stack)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Fatalf("env override lost: %s", cfg.Database.Path)
	}
	if cfg.LLM.Anthropic.APIKey != "key-from-env" {
		t.Fatal("anthropic key env override lost")
	}
	// Defaults survive a partial file.
	if cfg.Analysis.LookbackHours != 24 || cfg.Embedding.Model != "nomic-embed-text" {
		t.Fatalf("defaults lost: %+v", cfg.Analysis)
	}
}
