package graph

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/draftloop/draftloop/types"
)

// State is the execution payload threaded through the graph for one
// conversation thread. Messages is an append-only log: nodes return
// new entries and the executor merges them once per step via
// MergeMessages; nothing ever rewrites history.
type State struct {
	ThreadID         string          `json:"threadId"`
	Messages         []types.Message `json:"messages"`
	Intent           string          `json:"intent,omitempty"`
	ActiveArtifactID string          `json:"activeArtifactId,omitempty"`
	LastNodeID       string          `json:"lastNodeId,omitempty"`

	// Suspension bookkeeping. When a node suspends, the pending
	// interrupt and the node awaiting a decision are persisted with the
	// checkpoint; a later resume replays into that node's decision
	// branch with Resume set.
	PendingInterrupt *types.InterruptRecord `json:"pendingInterrupt,omitempty"`
	AwaitingNode     string                 `json:"awaitingNode,omitempty"`
	Resume           *types.ResumeDecision  `json:"resume,omitempty"`

	// LastDecision records the action the review node consumed, so the
	// outgoing edge can route a refine back for another model pass.
	LastDecision types.ResumeAction `json:"lastDecision,omitempty"`
}

func NewState(threadID string) State {
	return State{ThreadID: threadID}
}

// LastMessage returns the newest log entry, or false when the log is
// empty.
func (s *State) LastMessage() (types.Message, bool) {
	if len(s.Messages) == 0 {
		return types.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a copy safe to hand to another goroutine. Message
// values are copied; their payloads are treated as immutable once
// appended.
func (s State) Clone() State {
	out := s
	out.Messages = append([]types.Message(nil), s.Messages...)
	if s.PendingInterrupt != nil {
		record := *s.PendingInterrupt
		out.PendingInterrupt = &record
	}
	if s.Resume != nil {
		decision := *s.Resume
		out.Resume = &decision
	}
	return out
}

// MergeMessages is the pure reducer for the conversation log: it
// appends incoming entries to existing ones, assigning ids where
// missing and skipping entries whose id is already present. It never
// removes or replaces existing entries.
func MergeMessages(existing, incoming []types.Message) []types.Message {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		if key := m.Key(); key != "" {
			seen[key] = true
		}
	}
	out := append([]types.Message(nil), existing...)
	for _, m := range incoming {
		if m.ID == "" {
			m.ID = "msg_" + uuid.NewString()
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

// ToMap serializes the state for checkpoint storage.
func (s State) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode state map: %w", err)
	}
	return out, nil
}

// StateFromMap restores a state from a checkpoint payload.
func StateFromMap(raw map[string]any) (State, error) {
	if len(raw) == 0 {
		return State{}, fmt.Errorf("checkpoint state is empty")
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return State{}, fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}
	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return st, nil
}
