package contract

import "context"

// CompletionClient turns the conversation so far into either a final answer
// or a batch of proposed actions.
type CompletionClient interface {
	Decide(ctx context.Context, history []Turn) (Decision, error)
}

// ActionDispatcher executes one invocation. It never fails; every problem is
// reported through the returned Outcome.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, inv Invocation) Outcome
}

// OutcomeRecorder receives every outcome produced during a run.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, runID string, sessionID string, outcome Outcome) error
}
