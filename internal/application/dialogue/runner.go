package dialogue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loopwire/duet/internal/domain/transcript"
	apperrors "github.com/loopwire/duet/pkg/errors"

	"github.com/loopwire/duet/internal/infrastructure/monitoring"
	"github.com/loopwire/duet/internal/infrastructure/provider"
	"github.com/loopwire/duet/pkg/safego"
)

// AgentSpec names one party of a run: a registered provider instance plus
// the model it should use and the display name it writes to the transcript.
type AgentSpec struct {
	Name        string
	ProviderKey string
	Provider    provider.Provider
	Model       string
}

// RunConfig carries everything the Conversation Runner needs to bootstrap,
// launch, and finalize one run (§4.5).
type RunConfig struct {
	Topic string
	Agent1 AgentSpec
	Agent2 AgentSpec

	MaxTurns              int
	Timeout               time.Duration
	Temperature           float64
	MaxTokens             int
	MaxContextMessages    int
	SimilarityThreshold   float64
	MaxConsecutiveSimilar int
	MaxMessageLength      int
	TerminationPhrases    []string
	CallBackoff           BackoffPolicy
	AppendBackoff         BackoffPolicy
}

// RunResult summarizes a finished run for the caller (CLI or test).
type RunResult struct {
	Outcomes           map[string]Outcome
	TerminationReason  string
	TotalTurns         int
	TotalTokens        int64
}

// Run bootstraps the transcript (health check + deterministic opener),
// launches both agent loops concurrently, awaits them, and finalizes
// metrics (§4.5).
func Run(ctx context.Context, rc RunConfig, store transcript.Store, mon *monitoring.Monitor, tracer *monitoring.Tracer, logger *zap.Logger) (*RunResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	health, err := store.Health(ctx)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("store health check failed", err)
	}
	if !health.Healthy {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "transcript store reported unhealthy")
	}

	if err := seedOpener(ctx, store, rc.Topic); err != nil {
		return nil, err
	}

	if mon != nil {
		mon.IncrementActiveConversations()
		defer mon.DecrementActiveConversations()
	}

	agents := []AgentSpec{rc.Agent1, rc.Agent2}
	outcomes := make(map[string]Outcome, len(agents))
	var mu sync.Mutex
	var wg sync.WaitGroup

	runDone := make(chan struct{})
	safego.Go(logger, "cancellation-watcher", func() {
		watchCancellation(ctx, store, logger, runDone)
	})
	defer close(runDone)

	for _, spec := range agents {
		spec := spec
		peer := rc.Agent2.Name
		if spec.Name == rc.Agent2.Name {
			peer = rc.Agent1.Name
		}

		agent := NewAgent(AgentConfig{
			Name:                  spec.Name,
			PeerName:              peer,
			ProviderKey:           spec.ProviderKey,
			Model:                 spec.Model,
			Topic:                 rc.Topic,
			MaxTurns:              rc.MaxTurns,
			Timeout:               rc.Timeout,
			Temperature:           rc.Temperature,
			MaxTokens:             rc.MaxTokens,
			MaxContextMessages:    rc.MaxContextMessages,
			SimilarityThreshold:   rc.SimilarityThreshold,
			MaxConsecutiveSimilar: rc.MaxConsecutiveSimilar,
			MaxMessageLength:      rc.MaxMessageLength,
			TerminationPhrases:    rc.TerminationPhrases,
			CallBackoff:           rc.CallBackoff,
			AppendBackoff:         rc.AppendBackoff,
		}, spec.Provider, store, mon, tracer, logger)

		wg.Add(1)
		safego.Go(logger, "agent:"+spec.Name, func() {
			defer wg.Done()
			outcome := runAgentSafely(ctx, agent, store, logger, spec.Name)
			mu.Lock()
			outcomes[spec.Name] = outcome
			mu.Unlock()
		})
	}

	wg.Wait()

	// The run has already finished; read final state with a fresh context
	// so a cancelled ctx (the common case when the run ended via external
	// cancellation) doesn't also fail this read.
	metaCtx, metaCancel := context.WithTimeout(context.Background(), 5*time.Second)
	meta, err := store.Metadata(metaCtx)
	metaCancel()
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("failed to read final metadata", err)
	}

	return &RunResult{
		Outcomes:          outcomes,
		TerminationReason: meta.TerminationReason,
		TotalTurns:        meta.TotalTurns,
		TotalTokens:       meta.TotalTokens,
	}, nil
}

// watchCancellation implements §4.4/§7's cancellation contract: if ctx is
// cancelled before the run finishes on its own (runDone closes), it marks
// the transcript terminated with reason "cancelled" using a freshly derived
// context, since the now-cancelled ctx would itself fail against a
// context-deadline-aware store backend. MarkTerminated's first-wins
// semantics make this race-safe against an agent finishing for an unrelated
// reason at the same moment.
func watchCancellation(ctx context.Context, store transcript.Store, logger *zap.Logger, runDone <-chan struct{}) {
	select {
	case <-runDone:
		return
	case <-ctx.Done():
	}
	freshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.MarkTerminated(freshCtx, "cancelled"); err != nil {
		logger.Error("failed to mark transcript terminated after cancellation", zap.Error(err))
	}
}

// runAgentSafely recovers a panicking agent loop, marks the transcript
// terminated with a fatal reason, and returns a synthesized Outcome so the
// runner never lets one agent's crash silently strand the other (§7).
func runAgentSafely(ctx context.Context, agent *Agent, store transcript.Store, logger *zap.Logger, name string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("fatal:%v", r)
			logger.Error("agent loop panicked", zap.String("agent", name), zap.Any("panic", r))
			if err := store.MarkTerminated(ctx, reason); err != nil {
				logger.Error("failed to mark transcript terminated after panic", zap.Error(err))
			}
			outcome = Outcome{Reason: reason, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return agent.Run(ctx)
}

// seedOpener appends the deterministic opener seed message when the
// transcript is empty, guaranteeing last_sender != any agent name. With the
// seed in place both agents treat the first turn as theirs: the first-mover
// rule (IsFirstMover) is consulted only on an empty transcript, so the agent
// that opens is whichever one's CAS-guarded append lands first.
func seedOpener(ctx context.Context, store transcript.Store, topic string) error {
	_, ok, err := store.LastSender(ctx)
	if err != nil {
		return apperrors.NewStoreUnavailable("failed to read last sender", err)
	}
	if ok {
		return nil
	}
	_, err = store.Append(ctx, "System", fmt.Sprintf("Topic: %s. Begin.", topic), map[string]interface{}{"seed": true})
	if err != nil {
		return apperrors.NewStoreUnavailable("failed to seed opener", err)
	}
	return nil
}
