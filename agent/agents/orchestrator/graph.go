package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

type sessionInput struct {
	SessionID string
	Text      string
}

// sessionState travels through the handle-message graph. Failures ride along
// in the state instead of being returned by a node, so callers get them
// unwrapped and still receive the RunResult when there is one. Once ReqErr is
// set the remaining nodes pass the state through.
type sessionState struct {
	SessionID  string
	Text       string
	Transcript *statex.Transcript
	Result     contractx.RunResult
	ReqErr     error
	RunErr     error
	SaveErr    error
}

func (s *Service) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[sessionInput, *sessionState], error) {
	graph := compose.NewGraph[sessionInput, *sessionState]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in sessionInput) (*sessionState, error) {
			return validateRequest(in), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_transcript",
		compose.InvokableLambda(func(ctx context.Context, in *sessionState) (*sessionState, error) {
			return s.loadTranscript(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_transcript: %w", err)
	}

	if err := graph.AddLambdaNode("run",
		compose.InvokableLambda(func(ctx context.Context, in *sessionState) (*sessionState, error) {
			if in.ReqErr != nil {
				return in, nil
			}
			in.Result, in.RunErr = s.run(ctx, in.SessionID, in.Transcript.Turns, in.Text)
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run: %w", err)
	}

	if err := graph.AddLambdaNode("save_transcript",
		compose.InvokableLambda(func(ctx context.Context, in *sessionState) (*sessionState, error) {
			return s.saveTranscript(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_transcript: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_transcript"},
		{"load_transcript", "run"},
		{"run", "save_transcript"},
		{"save_transcript", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

func validateRequest(in sessionInput) *sessionState {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return &sessionState{ReqErr: statex.ErrInvalidSession}
	}
	text, err := validateInput(in.Text)
	if err != nil {
		return &sessionState{SessionID: sessionID, ReqErr: err}
	}
	return &sessionState{SessionID: sessionID, Text: text}
}

func (s *Service) loadTranscript(ctx context.Context, in *sessionState) (*sessionState, error) {
	if in.ReqErr != nil {
		return in, nil
	}
	tr, err := s.store.Load(ctx, in.SessionID)
	switch {
	case errors.Is(err, statex.ErrStateNotFound):
		tr = statex.NewTranscript(in.SessionID, s.now())
	case err != nil:
		in.ReqErr = fmt.Errorf("load transcript for session %s: %w", in.SessionID, err)
		return in, nil
	}
	in.Transcript = tr
	return in, nil
}

// saveTranscript persists whatever history the run produced. Actions already
// dispatched in a failed run stay visible to the next one.
func (s *Service) saveTranscript(ctx context.Context, in *sessionState) (*sessionState, error) {
	if in.ReqErr != nil || len(in.Result.History) == 0 {
		return in, nil
	}

	in.Transcript.Replace(in.Result.History, s.now())
	in.Transcript.Trim(s.cfg.MaxHistoryTurns)
	if err := s.store.Save(context.WithoutCancel(ctx), in.Transcript); err != nil {
		s.logger.Error().Str("session_id", in.SessionID).Err(err).Msg("save transcript failed")
		in.SaveErr = fmt.Errorf("save transcript for session %s: %w", in.SessionID, err)
	}
	return in, nil
}
