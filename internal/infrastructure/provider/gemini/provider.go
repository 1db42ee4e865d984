// Package gemini adapts google.golang.org/genai to the core's
// provider.Provider contract.
package gemini

import (
	"context"
	"errors"
	"strings"

	genai "google.golang.org/genai"

	"github.com/loopwire/duet/internal/infrastructure/provider"
)

const defaultModel = "gemini-2.5-flash"

func init() {
	provider.RegisterFactory("gemini", New)
}

// Provider implements provider.Provider over the Gemini GenerateContent API.
type Provider struct {
	client       *genai.Client
	defaultModel string
}

// New constructs a Gemini provider from cfg.
func New(cfg provider.Config) (provider.Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini provider: API key required")
	}
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = defaultModel
	}

	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(base, "/") + "/"}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, defaultModel: model}, nil
}

func (p *Provider) Name() string         { return "gemini" }
func (p *Provider) DefaultModel() string { return p.defaultModel }

func (p *Provider) Call(ctx context.Context, messages []provider.Message, model string, temperature float64, maxTokens int) (provider.Result, error) {
	if model == "" {
		model = p.defaultModel
	}

	var contents []*genai.Content
	var systemParts []string
	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case provider.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	temp := float32(temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n"), genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return provider.Result{}, classifyError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return provider.Result{}, &provider.CallError{Kind: provider.KindTransient, Detail: "gemini returned no candidates"}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}

	result := provider.Result{Text: sb.String()}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func classifyError(err error) *provider.CallError {
	if errors.Is(err, context.Canceled) {
		return &provider.CallError{Kind: provider.KindCancelled, Detail: "gemini call cancelled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &provider.CallError{Kind: provider.KindTimeout, Detail: "gemini call timed out", Cause: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return &provider.CallError{Kind: provider.KindRateLimited, Detail: "gemini rate limit", Cause: err}
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "permission") || strings.Contains(msg, "api key"):
		return &provider.CallError{Kind: provider.KindAuth, Detail: "gemini authentication failed", Cause: err}
	case strings.Contains(msg, "context") && (strings.Contains(msg, "too long") || strings.Contains(msg, "exceeds")):
		return &provider.CallError{Kind: provider.KindContextTooLarge, Detail: "gemini context window exceeded", Cause: err}
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid"):
		return &provider.CallError{Kind: provider.KindInvalidRequest, Detail: "gemini rejected the request", Cause: err}
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "unavailable"):
		return &provider.CallError{Kind: provider.KindTransient, Detail: "gemini transient failure", Cause: err}
	default:
		return &provider.CallError{Kind: provider.KindUnknown, Detail: "gemini call failed", Cause: err}
	}
}
