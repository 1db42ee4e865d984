// Package filestore implements the embedded, single-process transcript
// store backend: a JSON-encoded conversation file guarded by an OS
// advisory lock file, serializing every mutation behind one critical
// section (§4.1).
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/loopwire/duet/internal/domain/transcript"
	apperrors "github.com/loopwire/duet/pkg/errors"
)

const lockAcquireTimeout = 2 * time.Second

// document is the on-disk representation of one conversation.
type document struct {
	Messages []*transcript.Message         `json:"messages"`
	Meta     transcript.ConversationMetadata `json:"metadata"`
	NextID   int64                           `json:"next_id"`
}

// Store is a file-backed transcript.Store. One Store instance should be
// used per OS process; the advisory lock serializes access across
// processes sharing the same path, and an in-process mutex serializes
// goroutines within this process.
type Store struct {
	path     string
	lockPath string
	mu       sync.Mutex // serializes goroutines within this process
	lock     *flock.Flock
}

// Open opens (creating if absent) the conversation file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.NewStoreUnavailable("create data directory", err)
	}
	s := &Store{
		path:     path,
		lockPath: path + ".lock",
		lock:     flock.New(path + ".lock"),
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		doc := document{
			Messages: []*transcript.Message{},
			Meta: transcript.ConversationMetadata{
				ConversationID: uuid.New().String(),
				PerSenderTurns: map[string]int{},
				CreatedAt:      time.Now().UTC(),
			},
			NextID: 1,
		}
		if err := s.writeLocked(&doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) withLock(ctx context.Context, fn func(doc *document) (*document, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()
	ok, err := s.lock.TryLockContext(lockCtx, 20*time.Millisecond)
	if err != nil || !ok {
		return apperrors.NewStoreUnavailable("acquire transcript file lock", err)
	}
	defer s.lock.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	updated, err := fn(doc)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	return s.write(updated)
}

func (s *Store) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("read transcript file", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewStoreUnavailable("parse transcript file", err)
	}
	if doc.Meta.PerSenderTurns == nil {
		doc.Meta.PerSenderTurns = map[string]int{}
	}
	return &doc, nil
}

func (s *Store) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.NewStoreUnavailable("encode transcript file", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.NewStoreUnavailable("write transcript file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperrors.NewStoreUnavailable("finalize transcript file", err)
	}
	return nil
}

// writeLocked is used only during Open, before any concurrent access is
// possible, so it bypasses the full read-modify-write path.
func (s *Store) writeLocked(doc *document) error {
	return s.write(doc)
}

func (s *Store) Append(ctx context.Context, sender, content string, metadata map[string]interface{}, opts ...transcript.AppendOption) (*transcript.Message, error) {
	var options transcript.AppendOptions
	for _, opt := range opts {
		opt(&options)
	}

	normalized := transcript.NormalizeSender(sender)
	if normalized == "" {
		return nil, apperrors.NewInvalidInput("sender must not be empty")
	}
	if err := transcript.ValidateContent(content, 0); err != nil {
		return nil, err
	}

	var appended *transcript.Message
	err := s.withLock(ctx, func(doc *document) (*document, error) {
		if options.HasExpectation {
			current := ""
			if n := len(doc.Messages); n > 0 {
				current = doc.Messages[n-1].Sender
			}
			if current != options.ExpectLastSender {
				return nil, apperrors.NewTurnViolation(options.ExpectLastSender, current)
			}
		}

		msg := &transcript.Message{
			ID:        doc.NextID,
			Sender:    normalized,
			Content:   content,
			Timestamp: time.Now().UTC(),
			Metadata:  metadata,
		}
		doc.NextID++
		doc.Messages = append(doc.Messages, msg)
		doc.Meta.TotalTurns++
		doc.Meta.PerSenderTurns[normalized]++
		doc.Meta.TotalTokens += transcript.TokensOf(metadata)

		appended = msg
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (s *Store) Context(ctx context.Context, limit int) ([]*transcript.Message, error) {
	if limit < 1 {
		limit = 1
	}
	var result []*transcript.Message
	err := s.withLock(ctx, func(doc *document) (*document, error) {
		n := len(doc.Messages)
		start := n - limit
		if start < 0 {
			start = 0
		}
		result = append([]*transcript.Message{}, doc.Messages[start:]...)
		return nil, nil
	})
	return result, err
}

func (s *Store) LastSender(ctx context.Context) (string, bool, error) {
	var sender string
	var ok bool
	err := s.withLock(ctx, func(doc *document) (*document, error) {
		if n := len(doc.Messages); n > 0 {
			sender = doc.Messages[n-1].Sender
			ok = true
		}
		return nil, nil
	})
	return sender, ok, err
}

func (s *Store) MarkTerminated(ctx context.Context, reason string) error {
	return s.withLock(ctx, func(doc *document) (*document, error) {
		if doc.Meta.Terminated {
			return nil, nil
		}
		doc.Meta.Terminated = true
		doc.Meta.TerminationReason = reason
		now := time.Now().UTC()
		doc.Meta.TerminationTimestamp = &now
		return doc, nil
	})
}

func (s *Store) Terminated(ctx context.Context) (bool, error) {
	var terminated bool
	err := s.withLock(ctx, func(doc *document) (*document, error) {
		terminated = doc.Meta.Terminated
		return nil, nil
	})
	return terminated, err
}

func (s *Store) TerminationReason(ctx context.Context) (string, bool, error) {
	var reason string
	var ok bool
	err := s.withLock(ctx, func(doc *document) (*document, error) {
		ok = doc.Meta.Terminated
		reason = doc.Meta.TerminationReason
		return nil, nil
	})
	return reason, ok, err
}

func (s *Store) Metadata(ctx context.Context) (*transcript.ConversationMetadata, error) {
	var meta transcript.ConversationMetadata
	err := s.withLock(ctx, func(doc *document) (*document, error) {
		meta = doc.Meta
		return nil, nil
	})
	return &meta, err
}

func (s *Store) Health(ctx context.Context) (transcript.Health, error) {
	checks := map[string]bool{"backend": false, "lock": false}

	if _, err := os.Stat(s.path); err == nil {
		checks["backend"] = true
	}

	probe := flock.New(s.lockPath)
	ok, err := probe.TryLock()
	if err == nil && ok {
		checks["lock"] = true
		_ = probe.Unlock()
	} else if err == nil && !ok {
		// Another process holds it right now — that's still a healthy,
		// acquirable lock file, just contended.
		checks["lock"] = true
	}

	healthy := checks["backend"] && checks["lock"]
	return transcript.Health{Healthy: healthy, Checks: checks}, nil
}

func (s *Store) Close() error {
	return nil
}
