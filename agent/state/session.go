package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

var (
	ErrNilTranscript     = errors.New("transcript is nil")
	ErrTranscriptCorrupt = errors.New("transcript corrupt")
)

// Transcript is the conversation history retained for one session between
// runs. Turns are only ever appended or trimmed from the front.
type Transcript struct {
	SessionID string           `json:"session_id"`
	Turns     []contractx.Turn `json:"turns"`
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewTranscript(sessionID string, now time.Time) *Transcript {
	return &Transcript{
		SessionID: sessionID,
		Turns:     make([]contractx.Turn, 0, 8),
		Version:   1,
		UpdatedAt: now.UTC(),
	}
}

func (t *Transcript) Touch(now time.Time) {
	t.UpdatedAt = now.UTC()
}

// Replace swaps in the history a run returned. The run saw the old turns as
// its prefix, so the new slice only grows the transcript.
func (t *Transcript) Replace(turns []contractx.Turn, now time.Time) {
	t.Turns = contractx.CloneTurns(turns)
	t.Touch(now)
}

// Trim drops the oldest turns so at most maxTurns remain. The cut always
// lands on a user turn so tool calls are never separated from their results.
// A transcript whose only user turn is older than the limit is left intact.
func (t *Transcript) Trim(maxTurns int) {
	if t == nil || maxTurns <= 0 || len(t.Turns) <= maxTurns {
		return
	}
	for i := len(t.Turns) - maxTurns; i < len(t.Turns); i++ {
		if t.Turns[i].Kind == contractx.TurnUser {
			t.Turns = append([]contractx.Turn(nil), t.Turns[i:]...)
			return
		}
	}
}

func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	out := *t
	out.Turns = contractx.CloneTurns(t.Turns)
	return &out
}

func (t *Transcript) Validate() error {
	if t == nil {
		return ErrNilTranscript
	}
	if strings.TrimSpace(t.SessionID) == "" {
		return ErrInvalidSession
	}
	for i, turn := range t.Turns {
		switch turn.Kind {
		case contractx.TurnUser, contractx.TurnAssistant:
		case contractx.TurnActionResult:
			if turn.Outcome == nil {
				return fmt.Errorf("%w: action result at turn %d has no outcome", ErrTranscriptCorrupt, i)
			}
		default:
			return fmt.Errorf("%w: unknown turn kind %q at turn %d", ErrTranscriptCorrupt, turn.Kind, i)
		}
	}
	return nil
}
