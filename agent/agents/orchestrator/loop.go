package orchestrator

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	metricsx "github.com/tanpawarit/crm-assistant/pkg/metrics"
	tracingx "github.com/tanpawarit/crm-assistant/pkg/tracing"
)

const (
	reasonCompletion     = "completion"
	reasonIterationBound = "iteration_bound"
	reasonCancelled      = "cancelled"
	reasonInvalidInput   = "invalid_input"
)

// run is the Deciding/Acting loop. Every proposal batch counts as one
// iteration; a proposal beyond MaxIterations fails the run without being
// dispatched. Actions of a batch run in order and a failed one does not stop
// the rest.
func (s *Service) run(ctx context.Context, sessionID string, prior []contractx.Turn, input string) (_ contractx.RunResult, runErr error) {
	text, err := validateInput(input)
	if err != nil {
		metricsx.RunTotal.WithLabelValues(string(contractx.RunFailed), reasonInvalidInput).Inc()
		return contractx.RunResult{}, err
	}

	res := contractx.RunResult{
		RunID:     s.newID(),
		SessionID: sessionID,
		Outcomes:  []contractx.Outcome{},
	}
	ctx, span := tracingx.StartRunSpan(ctx, res.RunID, sessionID)
	defer func() { tracingx.EndSpan(span, runErr) }()

	history := contractx.CloneTurns(prior)
	history = append(history, contractx.UserTurn(text))

	s.verbose().Str("run_id", res.RunID).Str("session_id", sessionID).Int("prior_turns", len(prior)).Msg("run started")

	for {
		if err := ctx.Err(); err != nil {
			return s.cancelled(res, history, err)
		}

		decision, err := s.completion.Decide(ctx, contractx.CloneTurns(history))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.cancelled(res, history, ctxErr)
			}
			if !errors.Is(err, contractx.ErrCompletion) {
				err = fmt.Errorf("%w: %v", contractx.ErrCompletion, err)
			}
			return s.fail(res, history, err, reasonCompletion, fmt.Sprintf("the language model could not produce a decision: %v", err))
		}

		if decision.IsFinal() {
			history = append(history, contractx.AssistantTurn(decision.Text, nil))
			res.Status = contractx.RunDone
			res.FinalText = decision.Text
			res.History = history
			s.verbose().Str("run_id", res.RunID).Int("iterations", res.Iterations).Int("outcomes", len(res.Outcomes)).Msg("run done")
			s.observe(res, "")
			return res, nil
		}

		if res.Iterations >= s.cfg.MaxIterations {
			return s.fail(res, history, contractx.ErrIterationBoundExceeded, reasonIterationBound,
				fmt.Sprintf("max iterations exceeded: stopped after %d acting steps without a final answer", res.Iterations))
		}
		res.Iterations++

		actions := contractx.CloneInvocations(decision.Actions)
		history = append(history, contractx.AssistantTurn(decision.Text, actions))
		for _, inv := range actions {
			s.verbose().Str("run_id", res.RunID).Int("iteration", res.Iterations).Str("action", inv.Action).Interface("args", inv.Args).Msg("dispatching action")

			outcome := s.dispatcher.Dispatch(ctx, inv)
			res.Outcomes = append(res.Outcomes, contractx.CloneOutcome(outcome))
			history = append(history, contractx.ActionResultTurn(outcome))

			s.verbose().Str("run_id", res.RunID).Str("action", inv.Action).Bool("success", outcome.Success).Str("message", outcome.Message).Msg("action finished")
			s.record(ctx, res.RunID, sessionID, outcome)
		}
	}
}

func (s *Service) cancelled(res contractx.RunResult, history []contractx.Turn, cause error) (contractx.RunResult, error) {
	return s.fail(res, history, fmt.Errorf("%w: %w", contractx.ErrCancelled, cause), reasonCancelled, fmt.Sprintf("run cancelled: %v", cause))
}

func (s *Service) fail(res contractx.RunResult, history []contractx.Turn, err error, reason string, message string) (contractx.RunResult, error) {
	res.Status = contractx.RunFailed
	res.FailureReason = message
	res.History = history
	s.logger.Warn().Str("run_id", res.RunID).Str("reason", reason).Int("iterations", res.Iterations).Err(err).Msg("run failed")
	s.observe(res, reason)
	return res, err
}

func (s *Service) observe(res contractx.RunResult, reason string) {
	metricsx.RunTotal.WithLabelValues(string(res.Status), reason).Inc()
	metricsx.RunIterations.Observe(float64(res.Iterations))
}

// record hands the outcome to the audit recorder. A recorder failure is
// logged and never ends the run.
func (s *Service) record(ctx context.Context, runID string, sessionID string, outcome contractx.Outcome) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordOutcome(context.WithoutCancel(ctx), runID, sessionID, outcome); err != nil {
		s.logger.Warn().Str("run_id", runID).Str("action", outcome.Invocation.Action).Err(err).Msg("record outcome failed")
	}
}
