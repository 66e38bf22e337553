// Package stream turns raw graph snapshots into the ordered, typed
// event sequence a client consumes, and guarantees every turn ends
// with exactly one final event.
package stream

import (
	"fmt"

	"github.com/draftloop/draftloop/graph"
	"github.com/draftloop/draftloop/types"
)

// Normalizer converts one snapshot at a time into zero or more agent
// events, holding the per-turn aggregator state: the shared sequence
// counter, the set of message keys already emitted, tool activity and
// token totals for the trailing metadata event. Allocate one per
// streamed call; it is not safe for concurrent use and never shared
// across turns.
type Normalizer struct {
	sequence         int
	emitted          map[string]bool
	hasToolCalls     bool
	promptTokens     int
	completionTokens int
	interruptEmitted bool
}

func NewNormalizer() *Normalizer {
	return &Normalizer{emitted: make(map[string]bool)}
}

// Normalize maps one snapshot to its events, in priority order: a
// suspension preempts everything, an already-seen last message yields
// nothing, otherwise the last message's text, tool calls, and tool
// result each produce their event.
func (n *Normalizer) Normalize(snap graph.Snapshot) []types.AgentEvent {
	if snap.Interrupt != nil {
		return n.normalizeInterrupt(*snap.Interrupt)
	}

	last, ok := snap.State.LastMessage()
	if !ok {
		return nil
	}
	key := last.Key()
	if key == "" || n.emitted[key] {
		return nil
	}
	n.emitted[key] = true

	var events []types.AgentEvent

	if last.Role == types.RoleAssistant && last.Content != "" {
		events = append(events, n.next(types.AgentEvent{
			Type: types.EventTextChunk,
			Text: &types.TextChunkData{Content: last.Content, Role: types.RoleAssistant},
		}))
		if last.Usage != nil {
			n.promptTokens += last.Usage.InputTokens
			n.completionTokens += last.Usage.OutputTokens
		}
	}

	for _, call := range last.ToolCalls {
		n.hasToolCalls = true
		toolID := call.ID
		if toolID == "" {
			toolID = fmt.Sprintf("call_%d", n.sequence)
		}
		events = append(events, n.next(types.AgentEvent{
			Type: types.EventToolCall,
			ToolCall: &types.ToolCallData{
				ToolID:    toolID,
				ToolName:  call.Name,
				Arguments: string(call.Arguments),
				Status:    types.ToolCallInProgress,
			},
		}))
	}

	if last.Role == types.RoleTool {
		toolName := last.Name
		if toolName == "" {
			toolName = "unknown"
		}
		events = append(events, n.next(types.AgentEvent{
			Type: types.EventToolResult,
			ToolResult: &types.ToolResultData{
				ToolID:   last.ToolCallID,
				ToolName: toolName,
				Result:   last.Content,
				Success:  true,
			},
		}))
	}

	return events
}

// normalizeInterrupt emits the suspension and suppresses everything
// else in the snapshot: an interrupting snapshot carries no other
// client-facing content. A record without an id is dropped.
func (n *Normalizer) normalizeInterrupt(record types.InterruptRecord) []types.AgentEvent {
	if record.InterruptID == "" {
		return nil
	}
	n.interruptEmitted = true
	return []types.AgentEvent{n.next(types.AgentEvent{
		Type: types.EventInterrupt,
		Interrupt: &types.InterruptData{
			InterruptID:   record.InterruptID,
			ArtifactID:    record.ArtifactID,
			ArtifactTitle: record.ArtifactTitle,
			ItemCount:     record.ItemCount,
		},
	})}
}

// InterruptEmitted reports whether any suspension surfaced during the
// turn so far.
func (n *Normalizer) InterruptEmitted() bool { return n.interruptEmitted }

// HasToolCalls reports whether any tool call surfaced during the turn.
func (n *Normalizer) HasToolCalls() bool { return n.hasToolCalls }

// Usage returns the cumulative token usage observed during the turn,
// with the total derived from the two counters.
func (n *Normalizer) Usage() types.Usage {
	return types.Usage{
		InputTokens:  n.promptTokens,
		OutputTokens: n.completionTokens,
		TotalTokens:  n.promptTokens + n.completionTokens,
	}
}

// next stamps the event with the shared sequence counter.
func (n *Normalizer) next(event types.AgentEvent) types.AgentEvent {
	event.Sequence = n.sequence
	n.sequence++
	return event
}
