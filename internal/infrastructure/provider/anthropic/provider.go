// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// core's provider.Provider contract.
package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loopwire/duet/internal/infrastructure/provider"
)

const defaultModel = "claude-sonnet-4-5"

func init() {
	provider.RegisterFactory("anthropic", New)
}

// Provider implements provider.Provider over the Anthropic Messages API.
type Provider struct {
	sdk          anthropicsdk.Client
	defaultModel string
}

// New constructs an Anthropic provider from cfg.
func New(cfg provider.Config) (provider.Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic provider: API key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		sdk:          anthropicsdk.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func (p *Provider) Name() string         { return "anthropic" }
func (p *Provider) DefaultModel() string { return p.defaultModel }

func (p *Provider) Call(ctx context.Context, messages []provider.Message, model string, temperature float64, maxTokens int) (provider.Result, error) {
	if model == "" {
		model = p.defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system []anthropicsdk.TextBlockParam
	var converted []anthropicsdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			system = append(system, anthropicsdk.TextBlockParam{Text: m.Content})
		case provider.RoleAssistant:
			converted = append(converted, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(model),
		Messages:    converted,
		System:      system,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropicsdk.Float(temperature),
	}

	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return provider.Result{}, classifyError(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}

	return provider.Result{
		Text:         sb.String(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func classifyError(err error) *provider.CallError {
	if errors.Is(err, context.Canceled) {
		return &provider.CallError{Kind: provider.KindCancelled, Detail: "anthropic call cancelled", Cause: err}
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return &provider.CallError{Kind: provider.KindRateLimited, Detail: "anthropic rate limit", Cause: err}
		case 401, 403:
			return &provider.CallError{Kind: provider.KindAuth, Detail: "anthropic authentication failed", Cause: err}
		case 400:
			if strings.Contains(strings.ToLower(apiErr.Error()), "context") {
				return &provider.CallError{Kind: provider.KindContextTooLarge, Detail: "anthropic context window exceeded", Cause: err}
			}
			return &provider.CallError{Kind: provider.KindInvalidRequest, Detail: "anthropic rejected the request", Cause: err}
		case 408, 409, 500, 502, 503, 504:
			return &provider.CallError{Kind: provider.KindTransient, Detail: "anthropic transient failure", Cause: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &provider.CallError{Kind: provider.KindTimeout, Detail: "anthropic call timed out", Cause: err}
	}
	return &provider.CallError{Kind: provider.KindUnknown, Detail: "anthropic call failed", Cause: err}
}
