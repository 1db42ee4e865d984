// Package openai adapts github.com/openai/openai-go/v2 to the core's
// provider.Provider contract.
package openai

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/loopwire/duet/internal/infrastructure/provider"
)

const defaultModel = "gpt-4o"

func init() {
	provider.RegisterFactory("openai", New)
}

// Provider implements provider.Provider over the OpenAI Chat Completions API.
type Provider struct {
	sdk          sdk.Client
	defaultModel string
}

// New constructs an OpenAI provider from cfg.
func New(cfg provider.Config) (provider.Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai provider: API key required")
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
		sdk:          sdk.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func (p *Provider) Name() string         { return "openai" }
func (p *Provider) DefaultModel() string { return p.defaultModel }

func (p *Provider) Call(ctx context.Context, messages []provider.Message, model string, temperature float64, maxTokens int) (provider.Result, error) {
	if model == "" {
		model = p.defaultModel
	}

	var converted []sdk.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			converted = append(converted, sdk.SystemMessage(m.Content))
		case provider.RoleAssistant:
			converted = append(converted, sdk.AssistantMessage(m.Content))
		default:
			converted = append(converted, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(model),
		Messages:    converted,
		Temperature: sdk.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}

	comp, err := p.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Result{}, classifyError(err)
	}

	text := ""
	if len(comp.Choices) > 0 {
		text = comp.Choices[0].Message.Content
	}

	return provider.Result{
		Text:         text,
		InputTokens:  int(comp.Usage.PromptTokens),
		OutputTokens: int(comp.Usage.CompletionTokens),
	}, nil
}

func classifyError(err error) *provider.CallError {
	if errors.Is(err, context.Canceled) {
		return &provider.CallError{Kind: provider.KindCancelled, Detail: "openai call cancelled", Cause: err}
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return &provider.CallError{Kind: provider.KindRateLimited, Detail: "openai rate limit", Cause: err}
		case 401, 403:
			return &provider.CallError{Kind: provider.KindAuth, Detail: "openai authentication failed", Cause: err}
		case 400:
			if strings.Contains(strings.ToLower(apiErr.Error()), "context") || strings.Contains(strings.ToLower(apiErr.Error()), "maximum context") {
				return &provider.CallError{Kind: provider.KindContextTooLarge, Detail: "openai context window exceeded", Cause: err}
			}
			return &provider.CallError{Kind: provider.KindInvalidRequest, Detail: "openai rejected the request", Cause: err}
		case 408, 409, 500, 502, 503, 504:
			return &provider.CallError{Kind: provider.KindTransient, Detail: "openai transient failure", Cause: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &provider.CallError{Kind: provider.KindTimeout, Detail: "openai call timed out", Cause: err}
	}
	return &provider.CallError{Kind: provider.KindUnknown, Detail: "openai call failed", Cause: err}
}
