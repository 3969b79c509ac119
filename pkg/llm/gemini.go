package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider calls Google Gemini through the genai SDK.
// The client is created on first use so construction never touches the network.
type GeminiProvider struct {
	cfg   ProviderConfig
	model string

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = GeminiKeyFromEnv()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini provider requires an API key (GEMINI_API_KEY or GOOGLE_API_KEY)")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModels["gemini"]
	}
	return &GeminiProvider{cfg: cfg, model: model}, nil
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:  p.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if p.cfg.BaseURL != "" {
			cc.HTTPOptions.BaseURL = p.cfg.BaseURL
		}
		if p.cfg.Timeout > 0 {
			cc.HTTPClient = &http.Client{Timeout: p.cfg.Timeout}
		}
		p.client, p.initErr = genai.NewClient(ctx, cc)
	})
	return p.client, p.initErr
}

// Complete sends a completion request to Gemini. System messages become the
// system instruction; the rest are sent as conversation turns.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (Response, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("gemini client: %w", err)
	}

	temp := float32(req.Temperature)
	config := &genai.GenerateContentConfig{Temperature: &temp}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	start := time.Now()
	result, err := client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini API error: %w", err)
	}
	if result == nil {
		return Response{}, errors.New("gemini returned nil result")
	}

	resp := Response{
		Content:  result.Text(),
		Model:    result.ModelVersion,
		Duration: time.Since(start),
	}
	if len(result.Candidates) > 0 {
		resp.FinishReason = string(result.Candidates[0].FinishReason)
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the configured model name.
func (p *GeminiProvider) Model() string {
	return p.model
}
