package dialogue

import (
	"context"
	"sync"

	"github.com/loopwire/duet/internal/infrastructure/provider"
)

// scriptedProvider returns canned results/errors in sequence, repeating the
// last entry once exhausted. Used to drive the agent loop through specific
// scenarios deterministically.
type scriptedProvider struct {
	name  string
	model string

	mu    sync.Mutex
	calls []func() (provider.Result, error)
	index int
}

func newScriptedProvider(name string, calls ...func() (provider.Result, error)) *scriptedProvider {
	return &scriptedProvider{name: name, model: "test-model", calls: calls}
}

func (p *scriptedProvider) Name() string         { return p.name }
func (p *scriptedProvider) DefaultModel() string { return p.model }

func (p *scriptedProvider) Call(ctx context.Context, messages []provider.Message, model string, temperature float64, maxTokens int) (provider.Result, error) {
	p.mu.Lock()
	i := p.index
	if i >= len(p.calls) {
		i = len(p.calls) - 1
	}
	fn := p.calls[i]
	if p.index < len(p.calls) {
		p.index++
	}
	p.mu.Unlock()
	return fn()
}

func textResult(text string) func() (provider.Result, error) {
	return func() (provider.Result, error) {
		return provider.Result{Text: text, InputTokens: 1, OutputTokens: 1}, nil
	}
}

func errResult(kind provider.ErrorKind, detail string) func() (provider.Result, error) {
	return func() (provider.Result, error) {
		return provider.Result{}, &provider.CallError{Kind: kind, Detail: detail}
	}
}

// blockingProvider never returns until its context is cancelled, mirroring
// a real adapter's call hanging against a slow or unreachable endpoint. It
// maps the cancellation the same way a real adapter's classifyError does.
type blockingProvider struct {
	name string
}

func (p *blockingProvider) Name() string         { return p.name }
func (p *blockingProvider) DefaultModel() string { return "test-model" }

func (p *blockingProvider) Call(ctx context.Context, messages []provider.Message, model string, temperature float64, maxTokens int) (provider.Result, error) {
	<-ctx.Done()
	return provider.Result{}, &provider.CallError{Kind: provider.KindCancelled, Detail: p.name + " call cancelled", Cause: ctx.Err()}
}
