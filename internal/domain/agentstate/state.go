// Package agentstate holds the in-memory, per-agent runtime state that is
// never shared with peers or persisted (§3 Agent Runtime State).
package agentstate

import (
	"time"

	"github.com/loopwire/duet/internal/domain/breaker"
)

// State is one agent's private runtime state for the duration of a run.
type State struct {
	ProviderName      string
	Model             string
	Topic             string
	APICredential     string
	Breaker           *breaker.CircuitBreaker
	TimeoutDeadline   time.Time
	turnCount         int
}

// New constructs runtime state bound to one provider/model pair.
func New(providerName, model, topic, apiCredential string, cb *breaker.CircuitBreaker, deadline time.Time) *State {
	return &State{
		ProviderName:    providerName,
		Model:           model,
		Topic:           topic,
		APICredential:   apiCredential,
		Breaker:         cb,
		TimeoutDeadline: deadline,
	}
}

// TurnCount returns how many messages this agent has appended so far.
func (s *State) TurnCount() int {
	return s.turnCount
}

// IncrementTurn records that this agent just appended a message.
func (s *State) IncrementTurn() {
	s.turnCount++
}

// DeadlineExceeded reports whether wall-clock time has passed the
// per-agent timeout deadline.
func (s *State) DeadlineExceeded(now time.Time) bool {
	return now.After(s.TimeoutDeadline)
}
