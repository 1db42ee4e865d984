package filestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loopwire/duet/internal/domain/transcript"
	apperrors "github.com/loopwire/duet/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStore_AppendThenContextReturnsMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg, err := s.Append(ctx, "anthropic", "hello", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.Sender != "Anthropic" {
		t.Fatalf("expected normalized sender, got %q", msg.Sender)
	}

	got, err := s.Context(ctx, 5)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(got) != 1 || got[0].Content != "hello" {
		t.Fatalf("expected the appended message back, got %+v", got)
	}
}

func TestStore_LastSenderReflectsMostRecentAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.LastSender(ctx); err != nil {
		t.Fatalf("LastSender on empty store: %v", err)
	}
	_, ok, _ := s.LastSender(ctx)
	if ok {
		t.Fatal("expected ok=false on empty store")
	}

	s.Append(ctx, "A", "first", nil)
	s.Append(ctx, "B", "second", nil)

	sender, ok, err := s.LastSender(ctx)
	if err != nil || !ok {
		t.Fatalf("LastSender: sender=%q ok=%v err=%v", sender, ok, err)
	}
	if sender != "B" {
		t.Fatalf("expected last sender B, got %q", sender)
	}
}

func TestStore_AppendRejectsEmptyContent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Append(context.Background(), "A", "", nil)
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput, got %v", err)
	}
}

func TestStore_AppendCASGuardRejectsMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Append(ctx, "A", "first", nil)

	_, err := s.Append(ctx, "B", "second", nil, transcript.WithExpectLastSender("B"))
	if !apperrors.Is(err, apperrors.CodeTurnViolation) {
		t.Fatalf("expected CodeTurnViolation, got %v", err)
	}

	msg, err := s.Append(ctx, "B", "second", nil, transcript.WithExpectLastSender("A"))
	if err != nil {
		t.Fatalf("expected the correctly-guarded append to succeed, got %v", err)
	}
	if msg.Content != "second" {
		t.Fatalf("unexpected content %q", msg.Content)
	}
}

func TestStore_MarkTerminatedIsFirstWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.MarkTerminated(ctx, "max_turns_reached"); err != nil {
		t.Fatalf("MarkTerminated: %v", err)
	}
	if err := s.MarkTerminated(ctx, "timeout"); err != nil {
		t.Fatalf("MarkTerminated (second call): %v", err)
	}

	terminated, err := s.Terminated(ctx)
	if err != nil || !terminated {
		t.Fatalf("expected terminated=true, got %v (err=%v)", terminated, err)
	}
	reason, ok, err := s.TerminationReason(ctx)
	if err != nil || !ok || reason != "max_turns_reached" {
		t.Fatalf("expected first reason to win, got reason=%q ok=%v err=%v", reason, ok, err)
	}
}

func TestStore_MetadataTracksTurnsAndTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Append(ctx, "A", "hi", map[string]interface{}{transcript.MetaTokens: 10})
	s.Append(ctx, "B", "hey", map[string]interface{}{transcript.MetaTokens: 5})

	meta, err := s.Metadata(ctx)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.TotalTurns != 2 {
		t.Fatalf("expected 2 total turns, got %d", meta.TotalTurns)
	}
	if meta.TotalTokens != 15 {
		t.Fatalf("expected 15 total tokens, got %d", meta.TotalTokens)
	}
	if meta.PerSenderTurns["A"] != 1 || meta.PerSenderTurns["B"] != 1 {
		t.Fatalf("unexpected per-sender turn counts: %+v", meta.PerSenderTurns)
	}
}

func TestStore_HealthReportsHealthyForFreshStore(t *testing.T) {
	s := openTestStore(t)
	health, err := s.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !health.Healthy {
		t.Fatalf("expected a freshly-opened store to be healthy, got checks=%+v", health.Checks)
	}
}

func TestStore_ContextRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, sender := range []string{"A", "B", "A", "B", "A"} {
		s.Append(ctx, sender, "msg", nil)
	}

	got, err := s.Context(ctx, 1)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected MAX_CONTEXT_MSGS=1 to return exactly one message, got %d", len(got))
	}
	if got[0].Sender != "A" {
		t.Fatalf("expected the latest message (sender A), got %q", got[0].Sender)
	}
}
