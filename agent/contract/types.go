package contract

import (
	"maps"
	"slices"
)

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// Param is one named argument of an Action. Order inside Action.Params is the
// order shown to the model.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
}

type Action struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Param returns the named parameter of the action.
func (a Action) Param(name string) (Param, bool) {
	for _, p := range a.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

type Invocation struct {
	CallID string         `json:"call_id,omitempty"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

type Outcome struct {
	Invocation Invocation `json:"invocation"`
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	ExternalID string     `json:"external_id,omitempty"`
}

type TurnKind string

const (
	TurnUser         TurnKind = "user"
	TurnAssistant    TurnKind = "assistant"
	TurnActionResult TurnKind = "action_result"
)

// Turn is one entry of the conversation history. Which fields are set depends
// on Kind: user turns carry Text, assistant turns carry Text and the
// invocations they proposed, action results carry Outcome.
type Turn struct {
	Kind        TurnKind     `json:"kind"`
	Text        string       `json:"text,omitempty"`
	Invocations []Invocation `json:"invocations,omitempty"`
	Outcome     *Outcome     `json:"outcome,omitempty"`
}

func UserTurn(text string) Turn {
	return Turn{Kind: TurnUser, Text: text}
}

func AssistantTurn(text string, invocations []Invocation) Turn {
	return Turn{Kind: TurnAssistant, Text: text, Invocations: CloneInvocations(invocations)}
}

func ActionResultTurn(outcome Outcome) Turn {
	out := CloneOutcome(outcome)
	return Turn{Kind: TurnActionResult, Outcome: &out}
}

// Decision is what the completion service answered for one Deciding step.
type Decision struct {
	Text    string       `json:"text,omitempty"`
	Actions []Invocation `json:"actions,omitempty"`
}

func FinalAnswer(text string) Decision {
	return Decision{Text: text}
}

func ProposedActions(actions ...Invocation) Decision {
	return Decision{Actions: actions}
}

func (d Decision) IsFinal() bool {
	return len(d.Actions) == 0
}

type RunStatus string

const (
	RunDone   RunStatus = "done"
	RunFailed RunStatus = "failed"
)

type RunResult struct {
	RunID         string    `json:"run_id"`
	SessionID     string    `json:"session_id,omitempty"`
	Status        RunStatus `json:"status"`
	FinalText     string    `json:"final_text,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Outcomes      []Outcome `json:"outcomes"`
	Iterations    int       `json:"iterations"`
	History       []Turn    `json:"history,omitempty"`
}

func CloneArgs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

func CloneInvocation(in Invocation) Invocation {
	out := in
	out.Args = CloneArgs(in.Args)
	return out
}

func CloneInvocations(in []Invocation) []Invocation {
	if in == nil {
		return nil
	}
	out := make([]Invocation, len(in))
	for i := range in {
		out[i] = CloneInvocation(in[i])
	}
	return out
}

func CloneOutcome(in Outcome) Outcome {
	out := in
	out.Invocation = CloneInvocation(in.Invocation)
	return out
}

func CloneTurn(in Turn) Turn {
	out := in
	out.Invocations = CloneInvocations(in.Invocations)
	if in.Outcome != nil {
		o := CloneOutcome(*in.Outcome)
		out.Outcome = &o
	}
	return out
}

func CloneTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	for i := range in {
		out[i] = CloneTurn(in[i])
	}
	return out
}

func CloneAction(in Action) Action {
	out := in
	out.Params = slices.Clone(in.Params)
	return out
}
