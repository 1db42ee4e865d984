package dialogue

import (
	"context"
	"sync"
	"time"

	"github.com/loopwire/duet/internal/domain/transcript"
	apperrors "github.com/loopwire/duet/pkg/errors"
)

// memStore is a minimal in-memory transcript.Store used only by this
// package's tests, mirroring the atomicity contract of the real backends
// without their persistence concerns.
type memStore struct {
	mu       sync.Mutex
	messages []*transcript.Message
	meta     transcript.ConversationMetadata
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{
		meta:   transcript.ConversationMetadata{PerSenderTurns: map[string]int{}, CreatedAt: time.Now().UTC()},
		nextID: 1,
	}
}

func (s *memStore) Append(ctx context.Context, sender, content string, metadata map[string]interface{}, opts ...transcript.AppendOption) (*transcript.Message, error) {
	sender = transcript.NormalizeSender(sender)
	if err := transcript.ValidateContent(content, transcript.DefaultMaxMessageLength); err != nil {
		return nil, err
	}

	var options transcript.AppendOptions
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.HasExpectation {
		var last string
		if n := len(s.messages); n > 0 {
			last = s.messages[n-1].Sender
		}
		if last != transcript.NormalizeSender(options.ExpectLastSender) {
			return nil, apperrors.NewTurnViolation(options.ExpectLastSender, last)
		}
	}

	msg := &transcript.Message{
		ID:        s.nextID,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	s.nextID++
	s.messages = append(s.messages, msg)

	s.meta.TotalTurns++
	s.meta.PerSenderTurns[sender]++
	s.meta.TotalTokens += transcript.TokensOf(metadata)

	return msg, nil
}

func (s *memStore) Context(ctx context.Context, limit int) ([]*transcript.Message, error) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*transcript.Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out, nil
}

func (s *memStore) LastSender(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return "", false, nil
	}
	return s.messages[len(s.messages)-1].Sender, true, nil
}

func (s *memStore) MarkTerminated(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.Terminated {
		return nil
	}
	s.meta.Terminated = true
	s.meta.TerminationReason = reason
	now := time.Now().UTC()
	s.meta.TerminationTimestamp = &now
	return nil
}

func (s *memStore) Terminated(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Terminated, nil
}

func (s *memStore) TerminationReason(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.TerminationReason, s.meta.Terminated, nil
}

func (s *memStore) Metadata(ctx context.Context) (*transcript.ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.meta
	perSender := make(map[string]int, len(s.meta.PerSenderTurns))
	for k, v := range s.meta.PerSenderTurns {
		perSender[k] = v
	}
	cp.PerSenderTurns = perSender
	return &cp, nil
}

func (s *memStore) Health(ctx context.Context) (transcript.Health, error) {
	return transcript.Health{Healthy: true, Checks: map[string]bool{"backend": true}}, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) snapshot() []*transcript.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transcript.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
