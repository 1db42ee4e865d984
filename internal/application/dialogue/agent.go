// Package dialogue implements the Agent Loop and Conversation Runner: the
// per-party cooperative task that drives one provider's participation in a
// shared transcript, and the bootstrap/await/finalize logic that launches a
// full run.
package dialogue

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loopwire/duet/internal/domain/agentstate"
	"github.com/loopwire/duet/internal/domain/breaker"
	"github.com/loopwire/duet/internal/domain/repetition"
	"github.com/loopwire/duet/internal/domain/transcript"
	apperrors "github.com/loopwire/duet/pkg/errors"

	"github.com/loopwire/duet/internal/infrastructure/monitoring"
	"github.com/loopwire/duet/internal/infrastructure/provider"
)

// AgentConfig parametrizes one party's loop. Name is the normalized sender
// identity this agent writes to the transcript under; it is usually derived
// from the provider name (e.g. "Anthropic") but kept distinct so two agents
// running the same provider with different models remain distinguishable.
type AgentConfig struct {
	Name        string
	PeerName    string
	ProviderKey string // registered provider type, e.g. "anthropic"
	Model       string
	Topic       string

	MaxTurns              int
	Timeout               time.Duration
	Temperature           float64
	MaxTokens             int
	MaxContextMessages    int
	SimilarityThreshold   float64
	MaxConsecutiveSimilar int
	MaxMessageLength      int
	TerminationPhrases    []string

	CallBackoff   BackoffPolicy
	AppendBackoff BackoffPolicy

	YieldMinJitter time.Duration
	YieldMaxJitter time.Duration
}

// Outcome is the terminal result of one agent's Run.
type Outcome struct {
	Reason string
	Err    error
}

// maxInvalidResponseStreak bounds how many consecutive empty/oversize
// sanitized responses an agent tolerates before terminating the run with
// "invalid_response:{name}" (§4.4 step 5), independent of the shared
// circuit breaker's own failure threshold.
const maxInvalidResponseStreak = 3

// Agent drives one party's participation in a conversation.
type Agent struct {
	cfg      AgentConfig
	provider provider.Provider
	store    transcript.Store
	state    *agentstate.State
	detector *repetition.Detector
	monitor  *monitoring.Monitor
	tracer   *monitoring.Tracer
	logger   *zap.Logger

	invalidStreak int
}

// NewAgent constructs an Agent ready to Run. The runtime state's deadline
// is computed from cfg.Timeout at construction time, not at the first Run
// iteration, so a Runner can construct all agents together before
// launching any of them.
func NewAgent(cfg AgentConfig, prov provider.Provider, store transcript.Store, mon *monitoring.Monitor, tracer *monitoring.Tracer, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := breaker.New(breaker.DefaultFailureThreshold, breaker.DefaultCooldown)
	deadline := time.Now().Add(cfg.Timeout)
	return &Agent{
		cfg:      cfg,
		provider: prov,
		store:    store,
		state:    agentstate.New(cfg.ProviderKey, cfg.Model, cfg.Topic, "", cb, deadline),
		detector: repetition.New(cfg.SimilarityThreshold, cfg.MaxConsecutiveSimilar, repetition.DefaultWindowSize),
		monitor:  mon,
		tracer:   tracer,
		logger:   logger.With(zap.String("agent", cfg.Name)),
	}
}

// IsFirstMover reports whether self is the deterministic first mover
// against peer, per §4.5: the name that compares first under normalized
// lexicographic order goes first.
func IsFirstMover(self, peer string) bool {
	return strings.Compare(transcript.NormalizeSender(self), transcript.NormalizeSender(peer)) < 0
}

// Run drives the loop until a terminal condition is reached (§4.4).
func (a *Agent) Run(ctx context.Context) Outcome {
	for {
		if outcome, done := a.terminalChecks(ctx); done {
			return outcome
		}

		lastSender, yielded, err := a.respectTurnOwnership(ctx)
		if err != nil {
			return Outcome{Reason: "store_unavailable", Err: err}
		}
		if yielded {
			continue
		}

		outcome, done := a.step(ctx, lastSender)
		if done {
			return outcome
		}
	}
}

// terminalChecks implements §4.4 step 1.
func (a *Agent) terminalChecks(ctx context.Context) (Outcome, bool) {
	terminated, err := a.store.Terminated(ctx)
	if err != nil {
		return Outcome{Reason: "store_unavailable", Err: err}, true
	}
	if terminated {
		return Outcome{Reason: "peer_terminated"}, true
	}

	if a.state.DeadlineExceeded(time.Now()) {
		a.markTerminated(ctx, "timeout")
		return Outcome{Reason: "timeout"}, true
	}

	if a.state.TurnCount() >= a.cfg.MaxTurns {
		a.markTerminated(ctx, "max_turns_reached")
		return Outcome{Reason: "max_turns_reached"}, true
	}

	if a.state.Breaker.IsOpen() {
		reason := fmt.Sprintf("circuit_open:%s", a.cfg.Name)
		a.markTerminated(ctx, reason)
		return Outcome{Reason: reason}, true
	}

	return Outcome{}, false
}

// respectTurnOwnership implements §4.4 step 2. It returns yielded=true when
// the caller should sleep and restart the loop rather than proceed; when
// yielded is false, lastSender is the observed last sender (possibly ""
// when the transcript was empty), passed on to step as the CAS guard's
// expectation.
func (a *Agent) respectTurnOwnership(ctx context.Context) (lastSender string, yielded bool, err error) {
	last, ok, err := a.store.LastSender(ctx)
	if err != nil {
		return "", false, err
	}
	if !ok {
		// No messages yet; the runner's seeded opener should make this
		// unreachable in practice, but fall back to the first-mover rule.
		if !IsFirstMover(a.cfg.Name, a.cfg.PeerName) {
			a.sleepJitter(ctx)
			return "", true, nil
		}
		return "", false, nil
	}
	if last == transcript.NormalizeSender(a.cfg.Name) {
		a.sleepJitter(ctx)
		return "", true, nil
	}
	return last, false, nil
}

func (a *Agent) sleepJitter(ctx context.Context) {
	lo, hi := a.cfg.YieldMinJitter, a.cfg.YieldMaxJitter
	if lo <= 0 {
		lo = 200 * time.Millisecond
	}
	if hi <= lo {
		hi = 400 * time.Millisecond
	}
	d := lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// step runs one full turn: context read through append and telemetry
// (§4.4 steps 3-9). lastSender is the CAS guard's expectation, observed by
// respectTurnOwnership just before this call. Returns done=true once a
// terminal outcome is reached.
func (a *Agent) step(ctx context.Context, lastSender string) (Outcome, bool) {
	turnSpanCtx, turnSpan := a.tracer.StartSpan(ctx, "agent.turn", monitoring.SpanKindAgentTurn)
	monitoring.SetAttribute(turnSpan, "agent.name", a.cfg.Name)
	monitoring.SetAttribute(turnSpan, "agent.peer", a.cfg.PeerName)
	monitoring.SetAttribute(turnSpan, "agent.turn", fmt.Sprintf("%d", a.state.TurnCount()+1))
	defer a.tracer.EndSpan(turnSpan, nil)

	readCtx, readSpan := a.tracer.StartSpan(turnSpanCtx, "context.read", monitoring.SpanKindContextRead)
	messages, err := a.readContext(readCtx)
	a.tracer.EndSpan(readSpan, err)
	if err != nil {
		return Outcome{Reason: "store_unavailable", Err: err}, true
	}

	callCtx, callSpan := a.tracer.StartSpan(turnSpanCtx, "provider.call", monitoring.SpanKindProviderCall)
	monitoring.SetAttribute(callSpan, "provider", a.cfg.ProviderKey)
	monitoring.SetAttribute(callSpan, "model", a.cfg.Model)
	callStart := time.Now()
	text, result, err := a.callProvider(callCtx, messages)
	responseTime := time.Since(callStart)
	a.tracer.EndSpan(callSpan, err)
	if err != nil {
		monitoring.AddEvent(turnSpan, "provider.call.failed", map[string]string{"provider": a.cfg.ProviderKey})
		reason := a.classifyFatalCallError(err)
		if reason != "" {
			a.markTerminated(ctx, reason)
			return Outcome{Reason: reason, Err: err}, true
		}
		return Outcome{}, false
	}

	sanitized, ok, reason := a.validateResponse(turnSpanCtx, text)
	if reason != "" {
		return Outcome{Reason: reason}, true
	}
	if !ok {
		return Outcome{}, false
	}

	turn := a.state.TurnCount() + 1
	meta := map[string]interface{}{
		transcript.MetaTokens:         int64(result.OutputTokens),
		transcript.MetaModel:          a.cfg.Model,
		transcript.MetaTurn:           turn,
		transcript.MetaResponseTimeMs: responseTime.Milliseconds(),
		transcript.MetaFingerprint:    fingerprint(sanitized),
	}

	if phrase, found := repetition.ContainsTerminationPhrase(sanitized, a.cfg.TerminationPhrases); found {
		violated, err := a.append(turnSpanCtx, lastSender, sanitized, meta)
		if err != nil {
			return Outcome{Reason: "store_unavailable", Err: err}, true
		}
		if violated {
			return Outcome{}, false
		}
		a.state.IncrementTurn()
		reason := fmt.Sprintf("explicit_termination:%s", a.cfg.Name)
		a.logger.Info("termination phrase observed", zap.String("phrase", phrase))
		a.markTerminated(ctx, reason)
		return Outcome{Reason: reason}, true
	}

	if triggered, sim := a.detector.Observe(sanitized, a.peerContext(messages)); triggered {
		violated, err := a.append(turnSpanCtx, lastSender, sanitized, meta)
		if err != nil {
			return Outcome{Reason: "store_unavailable", Err: err}, true
		}
		if violated {
			return Outcome{}, false
		}
		a.state.IncrementTurn()
		reason := fmt.Sprintf("repetition_loop:%s", a.cfg.Name)
		a.logger.Info("repetition loop detected", zap.Float64("similarity", sim))
		a.markTerminated(ctx, reason)
		return Outcome{Reason: reason}, true
	}

	violated, err := a.append(turnSpanCtx, lastSender, sanitized, meta)
	if violated {
		return Outcome{}, false
	}
	if err != nil {
		if apperrors.Is(err, apperrors.CodeInvalidInput) {
			a.logger.Error("internal invariant violated on append", zap.Error(err))
			a.markTerminated(ctx, "internal_invariant")
			return Outcome{Reason: "internal_invariant", Err: err}, true
		}
		a.markTerminated(ctx, "store_unavailable")
		return Outcome{Reason: "store_unavailable", Err: err}, true
	}
	a.state.IncrementTurn()

	return Outcome{}, false
}

func (a *Agent) readContext(ctx context.Context) ([]*transcript.Message, error) {
	limit := a.cfg.MaxContextMessages
	if limit < 1 {
		limit = 1
	}
	return a.store.Context(ctx, limit)
}

// peerContext extracts every context message not sent by this agent (the
// peer's turns and, while it is in the window, the seed) for the
// repetition detector's "peer-visible context window" input.
func (a *Agent) peerContext(messages []*transcript.Message) []string {
	self := transcript.NormalizeSender(a.cfg.Name)
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Sender != self {
			out = append(out, m.Content)
		}
	}
	return out
}

// toProviderMessages maps stored messages to the provider role contract:
// self -> assistant, peer -> user, anything else (the seed) -> system.
func (a *Agent) toProviderMessages(messages []*transcript.Message) []provider.Message {
	self := transcript.NormalizeSender(a.cfg.Name)
	out := make([]provider.Message, 0, len(messages))
	for _, m := range messages {
		role := provider.RoleUser
		switch {
		case m.Sender == self:
			role = provider.RoleAssistant
		case m.Sender == "System":
			role = provider.RoleSystem
		}
		out = append(out, provider.Message{Role: role, Content: m.Content})
	}
	return out
}

// callProvider implements §4.4 step 4: retried provider invocation with
// breaker bookkeeping and metrics emission. The provider.call span around it
// is opened and closed by step.
func (a *Agent) callProvider(ctx context.Context, recent []*transcript.Message) (string, provider.Result, error) {
	messages := a.toProviderMessages(recent)
	start := time.Now()

	result, err := doWithRetry(ctx, a.cfg.CallBackoff,
		func(err error) bool { return apperrors.IsRetryable(provider.Classify(err)) },
		func(_ int, err error) {
			if err != nil {
				a.state.Breaker.RecordFailure()
			} else {
				a.state.Breaker.RecordSuccess()
			}
		},
		func(ctx context.Context) (provider.Result, error) {
			return a.provider.Call(ctx, messages, a.cfg.Model, a.cfg.Temperature, a.cfg.MaxTokens)
		},
	)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if a.monitor != nil {
		a.monitor.RecordCall(a.cfg.ProviderKey, a.cfg.Model, status, time.Since(start))
		a.monitor.RecordTokens(a.cfg.ProviderKey, result.InputTokens, result.OutputTokens)
	}

	if err != nil {
		return "", provider.Result{}, err
	}
	return result.Text, result, nil
}

// classifyFatalCallError maps a failed provider call to a termination
// reason, or "" if the loop should simply proceed to the next iteration
// (e.g. because the error was already exhausted as retryable and the run
// should keep going rather than end — per §7, Auth/PermanentConfig/
// InvalidInput/ContextTooLarge are the fatal cases here; ContextTooLarge is
// not retried with a smaller context).
func (a *Agent) classifyFatalCallError(err error) string {
	appErr := provider.Classify(err)
	switch appErr.Code {
	case apperrors.CodeCancelled:
		return "cancelled"
	case apperrors.CodeInvalidInput:
		return fmt.Sprintf("invalid_request:%s", a.cfg.Name)
	case apperrors.CodeAuth:
		return fmt.Sprintf("auth_failed:%s", a.cfg.Name)
	case apperrors.CodePermanentConfig:
		return fmt.Sprintf("permanent_config:%s", a.cfg.Name)
	case apperrors.CodeContextTooLarge:
		return fmt.Sprintf("context_too_large:%s", a.cfg.Name)
	default:
		// Transient/RateLimited/Timeout exhausted all retries; treat as a
		// recoverable miss for this iteration rather than a fatal end —
		// the breaker will open the circuit if failures keep accruing.
		return ""
	}
}

// validateResponse implements §4.4 step 5: an empty or oversize sanitized
// response is tolerated up to maxInvalidResponseStreak consecutive times
// (the outer Run loop's natural re-entry is the retry), after which the run
// terminates with a dedicated "invalid_response" reason rather than waiting
// for the shared circuit breaker to trip on an unrelated cause. The third
// return value is non-empty only when this call terminated the run, so the
// caller can report the true reason instead of rediscovering termination
// (and a misleading reason) on its next loop iteration.
func (a *Agent) validateResponse(ctx context.Context, text string) (sanitized string, ok bool, reason string) {
	sanitized = sanitizeOutput(text)
	if len(sanitized) == 0 || len(sanitized) > a.cfg.MaxMessageLength {
		a.state.Breaker.RecordFailure()
		a.invalidStreak++
		if a.invalidStreak >= maxInvalidResponseStreak {
			reason = fmt.Sprintf("invalid_response:%s", a.cfg.Name)
			a.markTerminated(ctx, reason)
			return "", false, reason
		}
		if a.state.Breaker.IsOpen() {
			reason = fmt.Sprintf("circuit_open:%s", a.cfg.Name)
			a.markTerminated(ctx, reason)
			return "", false, reason
		}
		return "", false, ""
	}
	a.invalidStreak = 0
	return sanitized, true, ""
}

// append implements §4.4 step 8's retried append, guarded by a CAS check
// against lastSender (the value respectTurnOwnership observed before this
// turn began). If the peer has since appended, the store rejects with
// CodeTurnViolation; that is reported back as violated=true rather than as
// an error, so the caller abandons this turn and re-enters the loop instead
// of treating it as fatal (§5: compare-and-set enforcement of turn order).
func (a *Agent) append(ctx context.Context, lastSender, content string, meta map[string]interface{}) (violated bool, err error) {
	spanCtx, span := a.tracer.StartSpan(ctx, "transcript.append", monitoring.SpanKindAppend)
	monitoring.SetAttribute(span, "agent.name", a.cfg.Name)
	monitoring.SetAttribute(span, "expect_last_sender", lastSender)
	defer func() { a.tracer.EndSpan(span, err) }()
	ctx = spanCtx

	_, err = doWithRetry(ctx, a.cfg.AppendBackoff,
		apperrors.IsRetryable,
		nil,
		func(ctx context.Context) (*transcript.Message, error) {
			return a.store.Append(ctx, a.cfg.Name, content, meta, transcript.WithExpectLastSender(lastSender))
		},
	)
	if apperrors.Is(err, apperrors.CodeTurnViolation) {
		return true, nil
	}
	return false, err
}

func (a *Agent) markTerminated(ctx context.Context, reason string) {
	if err := a.store.MarkTerminated(ctx, reason); err != nil {
		a.logger.Error("failed to mark transcript terminated", zap.String("reason", reason), zap.Error(err))
	}
}
