// Package profile turns the declared technology stack into a small set of
// semantic reference vectors. Several focused vectors beat one monolithic
// stack vector: a niche but critical match must not be washed out by
// unrelated stack breadth.
package profile

import (
	"context"
	"fmt"
	"log/slog"

	"stackwatch/internal/config"
	"stackwatch/internal/domain"
	"stackwatch/internal/ports"
)

// Profile is the in-memory set of reference vectors for one run. It is
// rebuilt from configuration every run and never persisted or diffed.
type Profile struct {
	Labels  []string
	Vectors [][]float32
}

// Builder embeds technology descriptions into reference vectors.
type Builder struct {
	embedder ports.Embedder
	logger   *slog.Logger
}

// NewBuilder wires the embedding backend.
func NewBuilder(embedder ports.Embedder, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{embedder: embedder, logger: logger}
}

// Build produces one vector per ungrouped technology, one averaged vector
// per group, and one vector for the project narrative when present.
// Returns domain.ErrConfigurationEmpty when no technologies are declared.
func (b *Builder) Build(ctx context.Context, stack config.StackConfig) (*Profile, error) {
	if len(stack.Technologies) == 0 {
		return nil, domain.ErrConfigurationEmpty
	}

	result := &Profile{}

	groups := map[string][][]float32{}
	var groupOrder []string

	for _, tech := range stack.Technologies {
		vector, err := b.embedder.Embed(ctx, describeTechnology(tech))
		if err != nil {
			return nil, fmt.Errorf("embed technology %s: %w", tech.Name, err)
		}

		if tech.Group == "" {
			result.Labels = append(result.Labels, tech.Name)
			result.Vectors = append(result.Vectors, vector)
			continue
		}

		if _, seen := groups[tech.Group]; !seen {
			groupOrder = append(groupOrder, tech.Group)
		}
		groups[tech.Group] = append(groups[tech.Group], vector)
	}

	for _, group := range groupOrder {
		mean, err := average(groups[group])
		if err != nil {
			return nil, fmt.Errorf("average group %s: %w", group, err)
		}
		result.Labels = append(result.Labels, group)
		result.Vectors = append(result.Vectors, mean)
	}

	if stack.Narrative != "" {
		vector, err := b.embedder.Embed(ctx, "Project focus: "+stack.Narrative)
		if err != nil {
			return nil, fmt.Errorf("embed narrative: %w", err)
		}
		result.Labels = append(result.Labels, "narrative")
		result.Vectors = append(result.Vectors, vector)
	}

	b.logger.Debug("stack profile built",
		"technologies", len(stack.Technologies),
		"references", len(result.Vectors))

	return result, nil
}

func describeTechnology(tech config.TechnologyConfig) string {
	if tech.Description == "" {
		return "Technology dependency: " + tech.Name
	}
	return fmt.Sprintf("Technology dependency: %s. %s", tech.Name, tech.Description)
}

func average(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to average")
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, vector := range vectors {
		if len(vector) != dim {
			return nil, fmt.Errorf("dimension mismatch: %d vs %d", len(vector), dim)
		}
		for i, v := range vector {
			sum[i] += float64(v)
		}
	}

	mean := make([]float32, dim)
	for i := range sum {
		mean[i] = float32(sum[i] / float64(len(vectors)))
	}
	return mean, nil
}
