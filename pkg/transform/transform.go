// Package transform turns extracted listing text into a model instruction and
// returns the model's raw reply.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/pkg/llm"
	"github.com/jmylchreest/chatcrawler/pkg/tabular"
)

const (
	// DefaultPlaceholder marks where the joined item text goes in a template.
	DefaultPlaceholder = "{data}"

	// DefaultTemplate is used when the caller supplies an empty template.
	DefaultTemplate = "Extract key property details:\n\n" + DefaultPlaceholder

	// DefaultMaxPromptChars bounds the substituted data, in characters.
	DefaultMaxPromptChars = 24000

	truncationMarker = "\n[data truncated]"
)

// ErrGeneration is returned when the language model call fails.
var ErrGeneration = errors.New("generation failed")

// Generator is the single call the pipeline makes to a language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// FromProvider wraps an llm.Provider as a Generator. Requests are sent as a
// single user message at temperature 0.
func FromProvider(p llm.Provider) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		resp, err := p.Complete(ctx, llm.Request{
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			Temperature: 0,
		})
		if err != nil {
			return "", err
		}
		logger.Debug("model reply received",
			"provider", p.Name(),
			"model", p.Model(),
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"duration", resp.Duration)
		return strings.TrimSpace(resp.Content), nil
	})
}

// Config controls prompt assembly.
type Config struct {
	// Placeholder is replaced with the joined item text.
	Placeholder string
	// MaxPromptChars hard-truncates the joined data. Zero uses the default;
	// a negative value disables the ceiling.
	MaxPromptChars int
	// Columns named in the output directive.
	Columns []string
}

// DefaultConfig returns the default prompt configuration.
func DefaultConfig() Config {
	return Config{
		Placeholder:    DefaultPlaceholder,
		MaxPromptChars: DefaultMaxPromptChars,
		Columns:        tabular.DefaultColumns,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Placeholder == "" {
		c.Placeholder = d.Placeholder
	}
	if c.MaxPromptChars == 0 {
		c.MaxPromptChars = d.MaxPromptChars
	}
	if len(c.Columns) == 0 {
		c.Columns = d.Columns
	}
	return c
}

// Prompt is an assembled model instruction plus how it was built.
type Prompt struct {
	Text string
	// Data is the joined item text after truncation.
	Data string
	// Items is the number of items included.
	Items int
	// Dropped is the number of items cut by maxItems.
	Dropped int
	// Truncated reports whether Data was cut at the character ceiling.
	Truncated bool
}

// Directive returns the fixed output-format instruction for columns.
func Directive(columns []string) string {
	return "Respond only with a comma-separated table. The first line must be the header row: " +
		strings.Join(columns, ",") +
		". Write one row per listing, quote any value that contains a comma, and leave unknown values empty. " +
		"Do not include any explanation, prose or markdown code fences."
}

// Pipeline assembles prompts and delegates them to a Generator.
type Pipeline struct {
	gen Generator
	cfg Config
}

// New creates a Pipeline.
func New(gen Generator, cfg Config) *Pipeline {
	return &Pipeline{gen: gen, cfg: cfg.withDefaults()}
}

// Build assembles the instruction for items without calling the model.
func (p *Pipeline) Build(items []string, template string, maxItems int) Prompt {
	return Build(items, template, maxItems, p.cfg)
}

// Build assembles the instruction for items. Items beyond maxItems are dropped;
// maxItems below zero keeps everything. An empty template uses DefaultTemplate,
// and a template without the placeholder gets the data appended.
func Build(items []string, template string, maxItems int, cfg Config) Prompt {
	cfg = cfg.withDefaults()

	kept := items
	if maxItems >= 0 && len(kept) > maxItems {
		kept = kept[:maxItems]
	}

	data := strings.Join(kept, "\n")
	truncated := false
	if cfg.MaxPromptChars > 0 && utf8.RuneCountInString(data) > cfg.MaxPromptChars {
		original := len(data)
		data = truncateRunes(data, cfg.MaxPromptChars) + truncationMarker
		truncated = true
		logger.Warn("prompt data truncated",
			"original_bytes", original,
			"max_chars", cfg.MaxPromptChars)
	}

	if strings.TrimSpace(template) == "" {
		template = strings.ReplaceAll(DefaultTemplate, DefaultPlaceholder, cfg.Placeholder)
	}
	template = strings.TrimSpace(template)

	var text string
	if strings.Contains(template, cfg.Placeholder) {
		text = strings.ReplaceAll(template, cfg.Placeholder, data)
	} else {
		text = template + "\n\n" + data
	}
	text += "\n\n" + Directive(cfg.Columns)

	return Prompt{
		Text:      text,
		Data:      data,
		Items:     len(kept),
		Dropped:   len(items) - len(kept),
		Truncated: truncated,
	}
}

// Run builds the instruction and sends it to the model. An empty item list is
// sent as is. Model failures are wrapped with ErrGeneration.
func (p *Pipeline) Run(ctx context.Context, items []string, template string, maxItems int) (string, Prompt, error) {
	prompt := p.Build(items, template, maxItems)
	reply, err := p.Generate(ctx, prompt)
	return reply, prompt, err
}

// Generate sends an assembled prompt to the model.
func (p *Pipeline) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if p.gen == nil {
		return "", fmt.Errorf("%w: no generator configured", ErrGeneration)
	}

	logger.Debug("sending prompt", "items", prompt.Items, "chars", utf8.RuneCountInString(prompt.Text))
	reply, err := p.gen.Generate(ctx, prompt.Text)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return reply, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
