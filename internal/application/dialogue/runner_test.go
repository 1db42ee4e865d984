package dialogue

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/loopwire/duet/internal/infrastructure/monitoring"
)

func testRunConfig(a, b AgentSpec) RunConfig {
	return RunConfig{
		Topic:                 "testing",
		Agent1:                a,
		Agent2:                b,
		MaxTurns:              3,
		Timeout:               10 * time.Second,
		Temperature:           0.7,
		MaxTokens:             100,
		MaxContextMessages:    10,
		SimilarityThreshold:   0.85,
		MaxConsecutiveSimilar: 2,
		MaxMessageLength:      1000,
		TerminationPhrases:    []string{"[done]"},
		CallBackoff:           BackoffPolicy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond},
		AppendBackoff:         BackoffPolicy{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond},
	}
}

func TestRun_HappyPathMaxTurns(t *testing.T) {
	store := newMemStore()
	mon := monitoring.NewMonitor(nil)
	tracer := monitoring.NewTracer("test", zap.NewNop())

	provA := newScriptedProvider("anthropic", textResult("A turn one"), textResult("A turn two"), textResult("A turn three"))
	provB := newScriptedProvider("openai", textResult("B turn one"), textResult("B turn two"), textResult("B turn three"))

	rc := testRunConfig(
		AgentSpec{Name: "Anthropic", ProviderKey: "anthropic", Provider: provA, Model: "m1"},
		AgentSpec{Name: "Openai", ProviderKey: "openai", Provider: provB, Model: "m2"},
	)

	result, err := Run(context.Background(), rc, store, mon, tracer, zap.NewNop())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	msgs := store.snapshot()
	if len(msgs) != 7 { // seed + 3 turns each
		t.Fatalf("expected 7 messages (seed + 6 turns), got %d", len(msgs))
	}
	if msgs[0].Sender != "System" {
		t.Fatalf("expected seed message first, got sender %q", msgs[0].Sender)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Sender == msgs[i-1].Sender {
			t.Fatalf("consecutive messages %d/%d share sender %q", i-1, i, msgs[i].Sender)
		}
	}

	for name, outcome := range result.Outcomes {
		if outcome.Reason != "max_turns_reached" {
			t.Fatalf("agent %s: expected max_turns_reached, got %q (err=%v)", name, outcome.Reason, outcome.Err)
		}
	}
}

func TestRun_TerminationPhraseEndsBothAgents(t *testing.T) {
	store := newMemStore()
	mon := monitoring.NewMonitor(nil)
	tracer := monitoring.NewTracer("test", zap.NewNop())

	provA := newScriptedProvider("anthropic", textResult("let's keep going"), textResult("[done] goodbye"))
	provB := newScriptedProvider("openai", textResult("sounds good"), textResult("agreed, continuing"), textResult("still here"))

	rc := testRunConfig(
		AgentSpec{Name: "Anthropic", ProviderKey: "anthropic", Provider: provA, Model: "m1"},
		AgentSpec{Name: "Openai", ProviderKey: "openai", Provider: provB, Model: "m2"},
	)
	rc.MaxTurns = 50

	result, err := Run(context.Background(), rc, store, mon, tracer, zap.NewNop())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.TerminationReason != "explicit_termination:Anthropic" {
		t.Fatalf("expected explicit_termination:Anthropic, got %q", result.TerminationReason)
	}

	aOutcome := result.Outcomes["Anthropic"]
	if aOutcome.Reason != "explicit_termination:Anthropic" {
		t.Fatalf("expected A's own outcome to match, got %q", aOutcome.Reason)
	}
	bOutcome := result.Outcomes["Openai"]
	if bOutcome.Reason != "peer_terminated" {
		t.Fatalf("expected B to observe peer_terminated, got %q (err=%v)", bOutcome.Reason, bOutcome.Err)
	}
}

func TestRun_ExternalCancellationTerminatesWithCancelledReason(t *testing.T) {
	store := newMemStore()
	mon := monitoring.NewMonitor(nil)
	tracer := monitoring.NewTracer("test", zap.NewNop())

	provA := &blockingProvider{name: "anthropic"}
	provB := &blockingProvider{name: "openai"}

	rc := testRunConfig(
		AgentSpec{Name: "Anthropic", ProviderKey: "anthropic", Provider: provA, Model: "m1"},
		AgentSpec{Name: "Openai", ProviderKey: "openai", Provider: provB, Model: "m2"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := Run(ctx, rc, store, mon, tracer, zap.NewNop())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.TerminationReason != "cancelled" {
		t.Fatalf("expected TerminationReason %q, got %q", "cancelled", result.TerminationReason)
	}
	for name, outcome := range result.Outcomes {
		if outcome.Reason != "cancelled" {
			t.Errorf("agent %s: expected outcome reason %q, got %q (err=%v)", name, "cancelled", outcome.Reason, outcome.Err)
		}
	}
}

func TestRun_RepetitionLoopEndsRun(t *testing.T) {
	store := newMemStore()
	mon := monitoring.NewMonitor(nil)
	tracer := monitoring.NewTracer("test", zap.NewNop())

	repeat := textResult("I agree completely.")
	provA := newScriptedProvider("anthropic", textResult("one"), textResult("two"), textResult("three"), textResult("four"), textResult("five"))
	provB := newScriptedProvider("openai", repeat, repeat, repeat)

	rc := testRunConfig(
		AgentSpec{Name: "Anthropic", ProviderKey: "anthropic", Provider: provA, Model: "m1"},
		AgentSpec{Name: "Openai", ProviderKey: "openai", Provider: provB, Model: "m2"},
	)
	rc.MaxTurns = 50

	result, err := Run(context.Background(), rc, store, mon, tracer, zap.NewNop())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.TerminationReason != "repetition_loop:Openai" {
		t.Fatalf("expected repetition_loop:Openai, got %q", result.TerminationReason)
	}
}
