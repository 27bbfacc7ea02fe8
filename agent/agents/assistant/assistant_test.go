package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	toolx "github.com/tanpawarit/crm-assistant/agent/tool"
)

type fakeToolCallingModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	idx       int
	tools     []*schema.ToolInfo
	inputs    [][]*schema.Message
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

func newTestAssistant(t *testing.T, fake *fakeToolCallingModel) *Assistant {
	t.Helper()
	a, err := New(context.Background(), fake, toolx.MustDefaultCatalog(), "system prompt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNewBindsCatalog(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{}
	newTestAssistant(t, fake)
	if len(fake.tools) != 5 {
		t.Fatalf("expected 5 bound tools, got %d", len(fake.tools))
	}
}

func TestNewRequiresPrompt(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &fakeToolCallingModel{}, toolx.MustDefaultCatalog(), "  ")
	if !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("expected ErrPromptMissing, got %v", err)
	}
}

func TestDecideFinalAnswer(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: " Hello! How can I help? "}},
	}
	a := newTestAssistant(t, fake)

	d, err := a.Decide(context.Background(), []contractx.Turn{contractx.UserTurn("Hi")})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !d.IsFinal() || d.Text != "Hello! How can I help?" {
		t.Fatalf("unexpected decision: %+v", d)
	}

	input := fake.inputs[0]
	if len(input) != 2 || input[0].Role != schema.System || input[1].Role != schema.User {
		t.Fatalf("unexpected rendered messages: %#v", input)
	}
	if input[0].Content != "system prompt" || input[1].Content != "Hi" {
		t.Fatalf("unexpected rendered content: %q / %q", input[0].Content, input[1].Content)
	}
}

func TestDecideToolCalls(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{
				{
					ID:       "call_a",
					Type:     "function",
					Function: schema.FunctionCall{Name: "create_contact", Arguments: `{"email":"john@x.com","firstname":"John"}`},
				},
				{
					Type:     "function",
					Function: schema.FunctionCall{Name: "send_email", Arguments: `{"to":"john@x.com","subject":"Hi","body":"Welcome"}`},
				},
			},
		}},
	}
	a := newTestAssistant(t, fake)

	d, err := a.Decide(context.Background(), []contractx.Turn{contractx.UserTurn("add John and email him")})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.IsFinal() || len(d.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %+v", d)
	}
	if d.Actions[0].CallID != "call_a" || d.Actions[0].Action != "create_contact" {
		t.Fatalf("unexpected first action: %+v", d.Actions[0])
	}
	if d.Actions[0].Args["email"] != "john@x.com" {
		t.Fatalf("unexpected args: %#v", d.Actions[0].Args)
	}
	if d.Actions[1].CallID == "" {
		t.Fatal("missing call id must be filled in")
	}
	if d.Actions[1].Action != "send_email" {
		t.Fatalf("order not preserved: %+v", d.Actions)
	}
}

func TestDecideRejectsActionOutsideCatalog(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{
				{
					ID:       "call_1",
					Function: schema.FunctionCall{Name: "create_contact", Arguments: `{"email":"x@y.com"}`},
				},
				{
					ID:       "call_2",
					Function: schema.FunctionCall{Name: "delete_contact", Arguments: `{"email":"x@y.com"}`},
				},
			},
		}},
	}
	a := newTestAssistant(t, fake)

	d, err := a.Decide(context.Background(), []contractx.Turn{contractx.UserTurn("delete x")})
	if !errors.Is(err, contractx.ErrCompletion) || !errors.Is(err, contractx.ErrCatalogMismatch) {
		t.Fatalf("expected ErrCompletion and ErrCatalogMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), `"delete_contact"`) {
		t.Fatalf("error should name the action: %v", err)
	}
	if len(d.Actions) != 0 {
		t.Fatalf("no action may be proposed, got %+v", d.Actions)
	}
}

func TestDecideMalformedResponses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		msg  *schema.Message
	}{
		{name: "empty", msg: &schema.Message{Role: schema.Assistant, Content: "   "}},
		{name: "blank tool name", msg: &schema.Message{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			ID: "c1", Function: schema.FunctionCall{Name: " ", Arguments: `{}`},
		}}}},
		{name: "bad args", msg: &schema.Message{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			ID: "c1", Function: schema.FunctionCall{Name: "create_contact", Arguments: `{"email":`},
		}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAssistant(t, &fakeToolCallingModel{responses: []*schema.Message{tc.msg}})
			_, err := a.Decide(context.Background(), []contractx.Turn{contractx.UserTurn("x")})
			if !errors.Is(err, contractx.ErrCompletion) || !errors.Is(err, contractx.ErrSchemaViolation) {
				t.Fatalf("expected ErrCompletion and ErrSchemaViolation, got %v", err)
			}
		})
	}
}

func TestDecideServiceFailure(t *testing.T) {
	t.Parallel()

	a := newTestAssistant(t, &fakeToolCallingModel{err: errors.New("503 service unavailable")})
	_, err := a.Decide(context.Background(), []contractx.Turn{contractx.UserTurn("x")})
	if !errors.Is(err, contractx.ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
	if errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatal("transport failure must not be reported as a schema violation")
	}
}

func TestDecideEmptyHistory(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{}
	a := newTestAssistant(t, fake)
	if _, err := a.Decide(context.Background(), nil); !errors.Is(err, contractx.ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
	if len(fake.inputs) != 0 {
		t.Fatal("empty history must not reach the model")
	}
}

func TestRenderMessagesPairsResults(t *testing.T) {
	t.Parallel()

	inv := contractx.Invocation{CallID: "call_1", Action: "create_contact", Args: map[string]any{"email": "a@b.co"}}
	history := []contractx.Turn{
		contractx.UserTurn("add a@b.co"),
		contractx.AssistantTurn("", []contractx.Invocation{inv}),
		contractx.ActionResultTurn(contractx.Outcome{Invocation: inv, Success: true, Message: "created", ExternalID: "42"}),
	}

	msgs, err := renderMessages("sys", history)
	if err != nil {
		t.Fatalf("renderMessages() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	call := msgs[2].ToolCalls
	if msgs[2].Role != schema.Assistant || len(call) != 1 || call[0].ID != "call_1" {
		t.Fatalf("unexpected assistant message: %#v", msgs[2])
	}
	if call[0].Function.Arguments != `{"email":"a@b.co"}` {
		t.Fatalf("unexpected arguments: %s", call[0].Function.Arguments)
	}
	result := msgs[3]
	if result.Role != schema.Tool || result.ToolCallID != "call_1" {
		t.Fatalf("unexpected tool message: %#v", result)
	}
	if !strings.Contains(result.Content, `"success":true`) || !strings.Contains(result.Content, `"external_id":"42"`) {
		t.Fatalf("unexpected tool content: %s", result.Content)
	}
}

func TestRenderMessagesRejectsBrokenTurn(t *testing.T) {
	t.Parallel()

	_, err := renderMessages("sys", []contractx.Turn{{Kind: contractx.TurnActionResult}})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
