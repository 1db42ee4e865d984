package transcript

import "context"

// AppendOptions carries the optional strict-turn-ownership guard described
// in §5: a store may reject an append with TurnViolation when the caller
// asserts an ExpectLastSender that no longer matches.
type AppendOptions struct {
	ExpectLastSender string
	HasExpectation   bool
}

// AppendOption configures a single Append call.
type AppendOption func(*AppendOptions)

// WithExpectLastSender enables the optional compare-and-set guard: the
// append is rejected with a TurnViolation error unless the store's current
// last_sender equals expected.
func WithExpectLastSender(expected string) AppendOption {
	return func(o *AppendOptions) {
		o.ExpectLastSender = expected
		o.HasExpectation = true
	}
}

// Store is the transcript contract implemented by the file-backed and
// networked backends (§4.1). All methods are safe for concurrent use by
// multiple agents sharing one handle.
type Store interface {
	// Append validates, normalizes, and durably records one message,
	// atomically updating the derived counters in ConversationMetadata.
	Append(ctx context.Context, sender, content string, metadata map[string]interface{}, opts ...AppendOption) (*Message, error)

	// Context returns up to limit most recent messages, oldest first.
	// limit < 1 is treated as 1.
	Context(ctx context.Context, limit int) ([]*Message, error)

	// LastSender returns the sender of the highest-id message, or ok=false
	// if the transcript is empty.
	LastSender(ctx context.Context) (sender string, ok bool, err error)

	// MarkTerminated idempotently transitions terminated to true with the
	// given reason. Subsequent calls are no-ops: first reason wins.
	MarkTerminated(ctx context.Context, reason string) error

	// Terminated reports the current termination flag.
	Terminated(ctx context.Context) (bool, error)

	// TerminationReason returns the stored reason, or ok=false if the
	// transcript has not terminated.
	TerminationReason(ctx context.Context) (reason string, ok bool, err error)

	// Metadata returns a snapshot of the conversation metadata bag.
	Metadata(ctx context.Context) (*ConversationMetadata, error)

	// Health verifies backend reachability (and, for file-backed stores,
	// lock acquirability) without holding any lock past the check.
	Health(ctx context.Context) (Health, error)

	// Close releases any resources (file handles, DB connections) held
	// by the store.
	Close() error
}
