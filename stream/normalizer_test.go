package stream

import (
	"encoding/json"
	"testing"

	"github.com/draftloop/draftloop/graph"
	"github.com/draftloop/draftloop/types"
)

func snapshotWith(messages ...types.Message) graph.Snapshot {
	return graph.Snapshot{State: graph.State{ThreadID: "t1", Messages: messages}}
}

func TestNormalize_AssistantText(t *testing.T) {
	n := NewNormalizer()
	events := n.Normalize(snapshotWith(types.Message{
		ID:      "m1",
		Role:    types.RoleAssistant,
		Content: "hello",
		Usage:   &types.Usage{InputTokens: 12, OutputTokens: 4},
	}))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Type != types.EventTextChunk || e.Sequence != 0 || e.IsFinal {
		t.Fatalf("unexpected event: %#v", e)
	}
	if e.Text.Content != "hello" || e.Text.Role != types.RoleAssistant {
		t.Fatalf("unexpected text payload: %#v", e.Text)
	}
	if usage := n.Usage(); usage.TotalTokens != 16 {
		t.Fatalf("expected total tokens 16, got %d", usage.TotalTokens)
	}
}

func TestNormalize_DuplicateLastMessageYieldsNothing(t *testing.T) {
	n := NewNormalizer()
	msg := types.Message{ID: "m1", Role: types.RoleAssistant, Content: "hello"}

	if events := n.Normalize(snapshotWith(msg)); len(events) != 1 {
		t.Fatalf("first delivery should emit, got %d events", len(events))
	}
	if events := n.Normalize(snapshotWith(msg)); len(events) != 0 {
		t.Fatalf("re-delivery should be silent, got %d events", len(events))
	}
}

func TestNormalize_ToolCalls(t *testing.T) {
	n := NewNormalizer()
	events := n.Normalize(snapshotWith(types.Message{
		ID:   "m1",
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call_a", Name: "validate_spec", Arguments: json.RawMessage(`{"spec":"{}"}`)},
			{Name: "fetch_page", Arguments: json.RawMessage(`{"url":"https://example.com"}`)},
		},
	}))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ToolCall.ToolID != "call_a" || events[0].ToolCall.Status != types.ToolCallInProgress {
		t.Fatalf("unexpected first call: %#v", events[0].ToolCall)
	}
	// A call without an id gets a sequence-derived placeholder.
	if events[1].ToolCall.ToolID != "call_1" {
		t.Fatalf("expected placeholder id call_1, got %q", events[1].ToolCall.ToolID)
	}
	if !n.HasToolCalls() {
		t.Fatal("tool activity should be recorded")
	}
}

func TestNormalize_ToolResult(t *testing.T) {
	n := NewNormalizer()
	events := n.Normalize(snapshotWith(types.Message{
		ID:         "m2",
		Role:       types.RoleTool,
		ToolCallID: "call_a",
		Content:    `{"valid":true}`,
	}))

	if len(events) != 1 || events[0].Type != types.EventToolResult {
		t.Fatalf("expected a tool result event, got %#v", events)
	}
	result := events[0].ToolResult
	if result.ToolName != "unknown" {
		t.Fatalf("missing tool name should fall back to unknown, got %q", result.ToolName)
	}
	if result.ToolID != "call_a" || result.Result != `{"valid":true}` || !result.Success {
		t.Fatalf("unexpected result payload: %#v", result)
	}
}

func TestNormalize_InterruptPreemptsMessages(t *testing.T) {
	n := NewNormalizer()
	snap := snapshotWith(types.Message{ID: "m1", Role: types.RoleAssistant, Content: "drafted"})
	snap.Interrupt = &types.InterruptRecord{
		InterruptID:   "int_1",
		ArtifactID:    "doc_1",
		ArtifactTitle: "Plan",
		ItemCount:     3,
	}

	events := n.Normalize(snap)
	if len(events) != 1 || events[0].Type != types.EventInterrupt {
		t.Fatalf("expected only an interrupt event, got %#v", events)
	}
	if events[0].Interrupt.ArtifactTitle != "Plan" || events[0].Interrupt.ItemCount != 3 {
		t.Fatalf("unexpected interrupt payload: %#v", events[0].Interrupt)
	}
	if !n.InterruptEmitted() {
		t.Fatal("interrupt emission should be recorded")
	}
}

func TestNormalize_InterruptWithoutIDDropped(t *testing.T) {
	n := NewNormalizer()
	snap := graph.Snapshot{Interrupt: &types.InterruptRecord{ArtifactID: "doc_1"}}

	if events := n.Normalize(snap); len(events) != 0 {
		t.Fatalf("record without an id must be dropped, got %#v", events)
	}
	if n.InterruptEmitted() {
		t.Fatal("dropped record must not mark the turn as interrupted")
	}
}

func TestNormalize_EmptySnapshotsYieldNothing(t *testing.T) {
	n := NewNormalizer()
	if events := n.Normalize(graph.Snapshot{}); len(events) != 0 {
		t.Fatalf("empty snapshot should be silent, got %#v", events)
	}
	// A message with neither id nor correlation id is malformed and
	// skipped rather than risking duplicate emission.
	if events := n.Normalize(snapshotWith(types.Message{Role: types.RoleAssistant, Content: "x"})); len(events) != 0 {
		t.Fatalf("keyless message should be silent, got %#v", events)
	}
}

func TestNormalize_SequencesAreGapFree(t *testing.T) {
	n := NewNormalizer()
	var all []types.AgentEvent
	all = append(all, n.Normalize(snapshotWith(types.Message{
		ID: "m1", Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}},
	}))...)
	all = append(all, n.Normalize(snapshotWith(types.Message{
		ID: "m2", Role: types.RoleTool, Name: "a", ToolCallID: "c1", Content: "ok",
	}))...)
	all = append(all, n.Normalize(snapshotWith(types.Message{
		ID: "m3", Role: types.RoleAssistant, Content: "done",
	}))...)

	for i, event := range all {
		if event.Sequence != i {
			t.Fatalf("sequence gap at %d: got %d", i, event.Sequence)
		}
		if event.IsFinal {
			t.Fatalf("normalizer must never mark events final: %#v", event)
		}
	}
}
