package assistant

import (
	"context"
	"encoding/json"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

func compileDecideGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[[]contractx.Turn, *schema.Message], error) {
	graph := compose.NewGraph[[]contractx.Turn, *schema.Message]()

	if err := graph.AddLambdaNode("render",
		compose.InvokableLambda(func(ctx context.Context, history []contractx.Turn) ([]*schema.Message, error) {
			return renderMessages(systemPrompt, history)
		}),
	); err != nil {
		return nil, fmt.Errorf("add decide render node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add decide model node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "render"); err != nil {
		return nil, fmt.Errorf("add decide edge start->render: %w", err)
	}
	if err := graph.AddEdge("render", "model"); err != nil {
		return nil, fmt.Errorf("add decide edge render->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add decide edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("assistant.decide_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile decide graph: %w", err)
	}
	return runner, nil
}

// renderMessages maps the conversation onto chat messages. Assistant turns
// carry their tool calls and every action result answers one of them by call
// id, which is the pairing OpenAI-compatible APIs require.
func renderMessages(systemPrompt string, history []contractx.Turn) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))

	for i, turn := range history {
		switch turn.Kind {
		case contractx.TurnUser:
			msgs = append(msgs, schema.UserMessage(turn.Text))
		case contractx.TurnAssistant:
			calls := make([]schema.ToolCall, 0, len(turn.Invocations))
			for _, inv := range turn.Invocations {
				args, err := json.Marshal(inv.Args)
				if err != nil {
					return nil, fmt.Errorf("%w: marshal args of %s at turn %d: %v", contractx.ErrValidation, inv.Action, i, err)
				}
				if inv.Args == nil {
					args = []byte("{}")
				}
				calls = append(calls, schema.ToolCall{
					ID:   inv.CallID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      inv.Action,
						Arguments: string(args),
					},
				})
			}
			msgs = append(msgs, schema.AssistantMessage(turn.Text, calls))
		case contractx.TurnActionResult:
			if turn.Outcome == nil {
				return nil, fmt.Errorf("%w: action result at turn %d has no outcome", contractx.ErrValidation, i)
			}
			content, err := json.Marshal(toolResult{
				Action:     turn.Outcome.Invocation.Action,
				Success:    turn.Outcome.Success,
				Message:    turn.Outcome.Message,
				ExternalID: turn.Outcome.ExternalID,
			})
			if err != nil {
				return nil, fmt.Errorf("%w: marshal outcome at turn %d: %v", contractx.ErrValidation, i, err)
			}
			msgs = append(msgs, schema.ToolMessage(string(content), turn.Outcome.Invocation.CallID))
		default:
			return nil, fmt.Errorf("%w: unknown turn kind %q at turn %d", contractx.ErrValidation, turn.Kind, i)
		}
	}
	return msgs, nil
}

type toolResult struct {
	Action     string `json:"action"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ExternalID string `json:"external_id,omitempty"`
}
