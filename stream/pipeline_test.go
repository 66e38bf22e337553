package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/draftloop/draftloop/checkpoint/inmemory"
	"github.com/draftloop/draftloop/engine"
	"github.com/draftloop/draftloop/graph"
	"github.com/draftloop/draftloop/llm"
	"github.com/draftloop/draftloop/tools"
	"github.com/draftloop/draftloop/types"
)

type scriptedProvider struct {
	responses []types.Response
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: true, ForcedToolChoice: true}
}

func (p *scriptedProvider) Generate(_ context.Context, _ types.Request) (types.Response, error) {
	if len(p.responses) == 0 {
		return types.Response{}, fmt.Errorf("model unavailable")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func newTestPipeline(t *testing.T, provider llm.Provider) *Pipeline {
	t.Helper()
	drafts := tools.NewDraftStore()
	registry, err := tools.NewRegistry(
		tools.NewValidateSpec(),
		tools.NewCreateDocument(drafts),
		tools.NewUpdateDocument(drafts),
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	eng, err := engine.New(provider, registry, inmemory.New(), engine.WithModel("test-model"))
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	pipeline, err := New(eng, WithModel("test-model"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return pipeline
}

func runTurn(t *testing.T, p *Pipeline, threadID string, input Input) []types.AgentEvent {
	t.Helper()
	events, err := p.Run(context.Background(), threadID, input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out := make([]types.AgentEvent, 0)
	for event := range events {
		out = append(out, event)
	}
	return out
}

func eventTypes(events []types.AgentEvent) string {
	parts := make([]string, len(events))
	for i, event := range events {
		parts[i] = string(event.Type)
	}
	return strings.Join(parts, ",")
}

// checkWellFormed asserts the invariants every turn must satisfy:
// gap-free sequences and exactly one final event, in last position.
func checkWellFormed(t *testing.T, events []types.AgentEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("turn produced no events")
	}
	finals := 0
	for i, event := range events {
		if event.Sequence != i {
			t.Fatalf("sequence gap at index %d: got %d", i, event.Sequence)
		}
		if event.IsFinal {
			finals++
			if i != len(events)-1 {
				t.Fatalf("final event at index %d of %d", i, len(events))
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final event, got %d", finals)
	}
}

func userMessage(content string) Input {
	return Input{Message: &types.Message{Role: types.RoleUser, Content: content}}
}

func TestRun_PlainText(t *testing.T) {
	p := newTestPipeline(t, &scriptedProvider{responses: []types.Response{{
		Message: types.Message{Role: types.RoleAssistant, Content: "REST is an architectural style."},
		Usage:   &types.Usage{InputTokens: 10, OutputTokens: 5},
	}}})

	events := runTurn(t, p, "t1", userMessage("What is REST?"))
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "TEXT_CHUNK,METADATA" {
		t.Fatalf("unexpected event types: %s", got)
	}
	if events[0].Text.Content != "REST is an architectural style." {
		t.Fatalf("unexpected text: %q", events[0].Text.Content)
	}

	meta := events[1].Metadata
	if meta.ConversationID != "t1" || meta.Model != "test-model" {
		t.Fatalf("unexpected metadata: %#v", meta)
	}
	if meta.MessageCount != 2 {
		t.Fatalf("expected message count 2, got %d", meta.MessageCount)
	}
	if meta.HasToolCalls {
		t.Fatal("plain text turn has no tool activity")
	}
	if meta.Usage.TotalTokens != 15 {
		t.Fatalf("expected total tokens 15, got %d", meta.Usage.TotalTokens)
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	p := newTestPipeline(t, &scriptedProvider{responses: []types.Response{
		{Message: types.Message{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{{
				ID:        "call_1",
				Name:      "validate_spec",
				Arguments: json.RawMessage(`{"spec": "{\"title\": \"API plan\"}"}`),
			}},
		}},
		{Message: types.Message{Role: types.RoleAssistant, Content: "The spec is valid."}},
	}})

	events := runTurn(t, p, "t1", userMessage("Is this a valid plan?"))
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "TOOL_CALL,TOOL_RESULT,TEXT_CHUNK,METADATA" {
		t.Fatalf("unexpected event types: %s", got)
	}
	if events[0].ToolCall.Status != types.ToolCallInProgress {
		t.Fatalf("expected IN_PROGRESS, got %q", events[0].ToolCall.Status)
	}
	if events[1].ToolResult.ToolName != "validate_spec" || !strings.Contains(events[1].ToolResult.Result, `"valid":true`) {
		t.Fatalf("unexpected tool result: %#v", events[1].ToolResult)
	}
	if !events[3].Metadata.HasToolCalls {
		t.Fatal("metadata should record tool activity")
	}
}

func draftProvider() *scriptedProvider {
	return &scriptedProvider{responses: []types.Response{{
		Message: types.Message{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{{
				ID:        "call_1",
				Name:      "create_document",
				Arguments: json.RawMessage(`{"title": "Migration plan", "sections": [{"heading": "Phase 1"}]}`),
			}},
		},
	}}}
}

func startDraft(t *testing.T, p *Pipeline) *types.InterruptData {
	t.Helper()
	events := runTurn(t, p, "t1", userMessage("Draft a migration plan"))
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "TOOL_CALL,TOOL_RESULT,INTERRUPT,METADATA" {
		t.Fatalf("unexpected event types: %s", got)
	}
	interrupt := events[2].Interrupt
	if interrupt.InterruptID == "" || interrupt.ArtifactTitle != "Migration plan" || interrupt.ItemCount != 1 {
		t.Fatalf("unexpected interrupt payload: %#v", interrupt)
	}
	return interrupt
}

func TestRun_ApproveResume(t *testing.T) {
	p := newTestPipeline(t, draftProvider())
	interrupt := startDraft(t, p)

	events := runTurn(t, p, "t1", Input{Resume: &types.ResumeDecision{
		InterruptID: interrupt.InterruptID,
		Action:      types.ResumeApprove,
	}})
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "TEXT_CHUNK,METADATA" {
		t.Fatalf("unexpected event types: %s", got)
	}
	if !strings.Contains(events[0].Text.Content, "approved") {
		t.Fatalf("expected approval acknowledgment, got %q", events[0].Text.Content)
	}
}

func TestRun_RejectResume(t *testing.T) {
	p := newTestPipeline(t, draftProvider())
	interrupt := startDraft(t, p)

	events := runTurn(t, p, "t1", Input{Resume: &types.ResumeDecision{
		InterruptID: interrupt.InterruptID,
		Action:      types.ResumeReject,
	}})
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "TEXT_CHUNK,METADATA" {
		t.Fatalf("unexpected event types: %s", got)
	}
	if !strings.Contains(events[0].Text.Content, "discarded") {
		t.Fatalf("expected discard message, got %q", events[0].Text.Content)
	}
}

func TestRun_MismatchedResumeIsMetadataOnly(t *testing.T) {
	p := newTestPipeline(t, draftProvider())
	startDraft(t, p)

	events := runTurn(t, p, "t1", Input{Resume: &types.ResumeDecision{
		InterruptID: "int_wrong",
		Action:      types.ResumeApprove,
	}})
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "METADATA" {
		t.Fatalf("ignored resume should yield metadata only, got %s", got)
	}
}

// stubRunner serves canned snapshots, standing in for an engine whose
// turn recorded a suspension without ever surfacing it as a snapshot.
type stubRunner struct {
	snapshots []graph.Snapshot
	pending   *types.InterruptRecord
	messages  int
}

func (r *stubRunner) Start(_ context.Context, _ string, _ types.Message) (<-chan graph.Snapshot, error) {
	out := make(chan graph.Snapshot, len(r.snapshots))
	for _, snap := range r.snapshots {
		out <- snap
	}
	close(out)
	return out, nil
}

func (r *stubRunner) Resume(ctx context.Context, threadID string, _ types.ResumeDecision) (<-chan graph.Snapshot, error) {
	return r.Start(ctx, threadID, types.Message{})
}

func (r *stubRunner) PendingInterrupt(_ context.Context, _ string) (*types.InterruptRecord, error) {
	return r.pending, nil
}

func (r *stubRunner) MessageCount(_ context.Context, _ string) (int, error) {
	return r.messages, nil
}

func (r *stubRunner) DeleteThread(_ context.Context, _ string) (int, error) {
	return r.messages, nil
}

func TestRun_UnsurfacedSuspensionIsStillReported(t *testing.T) {
	runner := &stubRunner{
		snapshots: []graph.Snapshot{{
			NodeID: "agent",
			State: graph.State{Messages: []types.Message{
				{ID: "m1", Role: types.RoleAssistant, Content: "Draft ready for review."},
			}},
		}},
		pending: &types.InterruptRecord{
			InterruptID:   "int_1",
			ArtifactID:    "doc_1",
			ArtifactTitle: "Migration plan",
			ItemCount:     2,
		},
		messages: 2,
	}
	p, err := New(runner, WithModel("test-model"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	events := runTurn(t, p, "t1", userMessage("Draft a migration plan"))
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "TEXT_CHUNK,INTERRUPT,METADATA" {
		t.Fatalf("unexpected event types: %s", got)
	}
	interrupt := events[1].Interrupt
	if interrupt.InterruptID != "int_1" || interrupt.ArtifactTitle != "Migration plan" || interrupt.ItemCount != 2 {
		t.Fatalf("unexpected interrupt payload: %#v", interrupt)
	}
}

func TestRun_ModelFailureEmitsSingleError(t *testing.T) {
	p := newTestPipeline(t, &scriptedProvider{})

	events := runTurn(t, p, "t1", userMessage("hello"))
	checkWellFormed(t, events)

	if got := eventTypes(events); got != "ERROR" {
		t.Fatalf("unexpected event types: %s", got)
	}
	errData := events[0].Error
	if errData.Code != "EXECUTION_ERROR" || errData.Retryable {
		t.Fatalf("unexpected error payload: %#v", errData)
	}
	if !strings.Contains(errData.Message, "model unavailable") {
		t.Fatalf("unexpected error message: %q", errData.Message)
	}
}

func TestRun_InputValidation(t *testing.T) {
	p := newTestPipeline(t, &scriptedProvider{})

	if _, err := p.Run(context.Background(), "", userMessage("hi")); err == nil {
		t.Fatal("expected error for missing thread id")
	}
	if _, err := p.Run(context.Background(), "t1", Input{}); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := p.Run(context.Background(), "t1", Input{
		Message: &types.Message{Role: types.RoleUser, Content: "hi"},
		Resume:  &types.ResumeDecision{InterruptID: "int_1", Action: types.ResumeApprove},
	}); err == nil {
		t.Fatal("expected error for ambiguous input")
	}
}

func TestDeleteThread(t *testing.T) {
	p := newTestPipeline(t, &scriptedProvider{responses: []types.Response{{
		Message: types.Message{Role: types.RoleAssistant, Content: "hi there"},
	}}})
	runTurn(t, p, "t1", userMessage("hello"))

	prior, err := p.DeleteThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}
	if prior != 2 {
		t.Fatalf("expected prior message count 2, got %d", prior)
	}

	// The deleted thread reports an empty log afterwards.
	count, err := p.runner.MessageCount(context.Background(), "t1")
	if err != nil {
		t.Fatalf("MessageCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 messages after delete, got %d", count)
	}
}
