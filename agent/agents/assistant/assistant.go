package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	toolx "github.com/tanpawarit/crm-assistant/agent/tool"
	metricsx "github.com/tanpawarit/crm-assistant/pkg/metrics"
	tracingx "github.com/tanpawarit/crm-assistant/pkg/tracing"
)

const DefaultDecideTimeout = 60 * time.Second

type Option func(*Assistant)

func WithTimeout(timeout time.Duration) Option {
	return func(a *Assistant) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assistant) {
		a.logger = logger
	}
}

// Assistant asks the chat model what to do next given the conversation so
// far. The action catalog is bound to the model once, at construction.
type Assistant struct {
	runner  compose.Runnable[[]contractx.Turn, *schema.Message]
	catalog *toolx.Catalog
	timeout time.Duration
	logger  zerolog.Logger
}

var _ contractx.CompletionClient = (*Assistant)(nil)

func New(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	catalog *toolx.Catalog,
	systemPrompt string,
	opts ...Option,
) (*Assistant, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if catalog == nil {
		return nil, errors.New("action catalog is required")
	}
	systemPrompt = strings.TrimSpace(systemPrompt)
	if systemPrompt == "" {
		return nil, fmt.Errorf("%w: system prompt", contractx.ErrPromptMissing)
	}

	toolModel, err := chatModel.WithTools(catalog.ToolInfos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind action catalog: %v", contractx.ErrCompletion, err)
	}
	runner, err := compileDecideGraph(ctx, toolModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrCompletion, err)
	}

	a := &Assistant{
		runner:  runner,
		catalog: catalog,
		timeout: DefaultDecideTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

func (a *Assistant) Decide(ctx context.Context, history []contractx.Turn) (_ contractx.Decision, err error) {
	started := time.Now()
	ctx, span := tracingx.StartDecideSpan(ctx, len(history))
	defer func() {
		metricsx.CompletionDuration.WithLabelValues(metricsx.Result(err == nil)).Observe(time.Since(started).Seconds())
		tracingx.EndSpan(span, err)
	}()

	if len(history) == 0 {
		return contractx.Decision{}, fmt.Errorf("%w: %w: history is empty", contractx.ErrCompletion, contractx.ErrValidation)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	msg, err := a.runner.Invoke(callCtx, contractx.CloneTurns(history))
	if err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: %v", contractx.ErrCompletion, err)
	}

	decision, err := toDecision(msg, len(history), a.catalog)
	if err != nil {
		return contractx.Decision{}, err
	}

	a.logger.Debug().
		Int("history", len(history)).
		Int("actions", len(decision.Actions)).
		Dur("took", time.Since(started)).
		Msg("completion decided")
	return decision, nil
}

func toDecision(msg *schema.Message, turn int, catalog *toolx.Catalog) (contractx.Decision, error) {
	if msg == nil {
		return contractx.Decision{}, fmt.Errorf("%w: %w: empty response", contractx.ErrCompletion, contractx.ErrSchemaViolation)
	}

	if len(msg.ToolCalls) > 0 {
		actions, err := toInvocations(msg.ToolCalls, turn, catalog)
		if err != nil {
			return contractx.Decision{}, err
		}
		decision := contractx.ProposedActions(actions...)
		decision.Text = strings.TrimSpace(msg.Content)
		return decision, nil
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return contractx.Decision{}, fmt.Errorf("%w: %w: response has neither text nor tool calls", contractx.ErrCompletion, contractx.ErrSchemaViolation)
	}
	return contractx.FinalAnswer(content), nil
}

// toInvocations converts tool calls in model order. A name outside the
// catalog fails the whole decision, so nothing of the batch is dispatched.
func toInvocations(calls []schema.ToolCall, turn int, catalog *toolx.Catalog) ([]contractx.Invocation, error) {
	out := make([]contractx.Invocation, 0, len(calls))
	for i, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: %w: tool call name is empty", contractx.ErrCompletion, contractx.ErrSchemaViolation)
		}
		if !catalog.Has(name) {
			return nil, fmt.Errorf("%w: %w: %q", contractx.ErrCompletion, contractx.ErrCatalogMismatch, name)
		}

		args := map[string]any{}
		raw := strings.TrimSpace(call.Function.Arguments)
		if raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: %w: invalid args for action=%s: %v", contractx.ErrCompletion, contractx.ErrSchemaViolation, name, err)
			}
		}

		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", turn, i)
		}
		out = append(out, contractx.Invocation{CallID: id, Action: name, Args: args})
	}
	return out, nil
}
