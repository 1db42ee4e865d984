package transcript

import "time"

// ConversationMetadata is the keyed bag tracked alongside the message log.
// Every field here is store-maintained; callers never set it directly.
type ConversationMetadata struct {
	// ConversationID is a UUID assigned once, the first time a store is
	// opened against a given backing file or database, and never changed
	// afterward. It identifies the conversation independently of its
	// storage location and appears in transcript exports.
	ConversationID       string
	TotalTurns           int
	PerSenderTurns       map[string]int
	TotalTokens          int64
	Terminated           bool
	TerminationReason    string
	TerminationTimestamp *time.Time
	CreatedAt            time.Time
}

// Health reports the result of a store health check.
type Health struct {
	Healthy bool
	Checks  map[string]bool
}
