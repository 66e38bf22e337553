package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftloop/draftloop/graph"
	"github.com/draftloop/draftloop/types"
)

// Intent tags assigned by the classify node.
const (
	IntentAuthoring = "authoring"
	IntentQA        = "qa"
)

// Tool names whose results create or replace the artifact under
// review.
var artifactTools = map[string]bool{
	"create_document": true,
	"update_document": true,
}

var authoringKeywords = []string{
	"draft", "write", "create", "document", "spec", "update", "revise", "outline",
}

// classify tags the turn with an intent derived from the latest user
// message. The tag only steers tool forcing; misclassification
// degrades to the model choosing tools on its own.
func (e *Engine) classify(_ context.Context, state *graph.State) ([]types.Message, error) {
	state.Intent = IntentQA
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role != types.RoleUser {
			continue
		}
		content := strings.ToLower(state.Messages[i].Content)
		for _, keyword := range authoringKeywords {
			if strings.Contains(content, keyword) {
				state.Intent = IntentAuthoring
				break
			}
		}
		break
	}
	return nil, nil
}

// agent invokes the model with the accumulated conversation. Tool use
// is forced on the first model pass of an authoring turn; follow-up
// passes (after tool results) leave the choice to the model so it can
// summarize instead of looping.
func (e *Engine) agent(ctx context.Context, state *graph.State) ([]types.Message, error) {
	caps := e.provider.Capabilities()

	req := types.Request{
		Model:           e.model,
		SystemPrompt:    e.systemPrompt,
		Messages:        state.Messages,
		MaxOutputTokens: e.maxOutputTokens,
	}
	if caps.Tools {
		req.Tools = e.registry.Definitions()
		req.ToolChoice = types.ToolChoiceAuto
		last, ok := state.LastMessage()
		if caps.ForcedToolChoice && state.Intent == IntentAuthoring && ok && last.Role == types.RoleUser {
			req.ToolChoice = types.ToolChoiceRequired
		}
	}

	resp, err := e.provider.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}

	msg := resp.Message
	msg.Role = types.RoleAssistant
	if msg.Usage == nil {
		msg.Usage = resp.Usage
	}
	return []types.Message{msg}, nil
}

// runTools executes every tool call requested by the last assistant
// message, producing one tool-result message per call. A failing tool
// is data, not control flow: the failure text becomes the result so
// the model can react to it.
func (e *Engine) runTools(ctx context.Context, state *graph.State) ([]types.Message, error) {
	last, ok := state.LastMessage()
	if !ok || last.Role != types.RoleAssistant || len(last.ToolCalls) == 0 {
		return nil, nil
	}

	results := make([]types.Message, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		content, err := e.executeCall(ctx, call)
		if err != nil {
			e.logger.Warn("tool call failed",
				zap.String("thread_id", state.ThreadID),
				zap.String("tool", call.Name),
				zap.Error(err))
			content = fmt.Sprintf("tool %q failed: %v", call.Name, err)
		}
		results = append(results, types.Message{
			Role:       types.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    content,
		})
	}
	return results, nil
}

func (e *Engine) executeCall(ctx context.Context, call types.ToolCall) (string, error) {
	result, err := e.registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		return "", err
	}
	switch v := result.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(encoded), nil
	}
}

// afterTools inspects the latest tool results for an artifact-creating
// operation and records the artifact as awaiting review.
func (e *Engine) afterTools(_ context.Context, state *graph.State) ([]types.Message, error) {
	if artifact, ok := latestArtifactResult(state); ok {
		state.ActiveArtifactID = artifact.ArtifactID
	}
	return nil, nil
}

// humanReview is the suspension point of the graph. With no decision
// in hand it captures an interrupt record and suspends the turn; a
// resumed turn replays into this node with the caller's decision.
func (e *Engine) humanReview(_ context.Context, state *graph.State) ([]types.Message, error) {
	if state.Resume != nil {
		decision := *state.Resume
		state.Resume = nil
		state.LastDecision = decision.Action
		return e.applyDecision(state, decision)
	}

	if state.ActiveArtifactID == "" {
		return nil, nil
	}

	record := types.InterruptRecord{
		InterruptID:   "int_" + uuid.NewString(),
		ArtifactID:    state.ActiveArtifactID,
		ArtifactTitle: "Untitled draft",
	}
	if artifact, ok := latestArtifactResult(state); ok {
		if artifact.Title != "" {
			record.ArtifactTitle = artifact.Title
		}
		record.ItemCount = artifact.ItemCount
	}
	return nil, graph.NewInterrupt(record)
}

func (e *Engine) applyDecision(state *graph.State, decision types.ResumeDecision) ([]types.Message, error) {
	title := "Untitled draft"
	if artifact, ok := latestArtifactResult(state); ok && artifact.Title != "" {
		title = artifact.Title
	}

	switch decision.Action {
	case types.ResumeApprove:
		state.ActiveArtifactID = ""
		return []types.Message{{
			Role:    types.RoleAssistant,
			Content: fmt.Sprintf("%q has been approved and finalized.", title),
		}}, nil
	case types.ResumeRefine:
		// The artifact stays active: the next agent pass is expected
		// to update it, which re-triggers review.
		content := "Please refine the draft."
		if decision.Notes != "" {
			content = "Please refine the draft: " + decision.Notes
		}
		return []types.Message{{
			Role:    types.RoleUser,
			Content: content,
		}}, nil
	case types.ResumeReject:
		state.ActiveArtifactID = ""
		return []types.Message{{
			Role:    types.RoleAssistant,
			Content: fmt.Sprintf("%q has been discarded.", title),
		}}, nil
	default:
		return nil, fmt.Errorf("unknown resume action %q", decision.Action)
	}
}

type artifactResult struct {
	ArtifactID string `json:"artifactId"`
	Title      string `json:"title"`
	ItemCount  int    `json:"itemCount"`
}

// latestArtifactResult finds the most recent tool-result message from
// an artifact-creating tool and decodes its payload.
func latestArtifactResult(state *graph.State) (artifactResult, bool) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		msg := state.Messages[i]
		if msg.Role != types.RoleTool || !artifactTools[msg.Name] {
			continue
		}
		var artifact artifactResult
		if err := json.Unmarshal([]byte(msg.Content), &artifact); err != nil || artifact.ArtifactID == "" {
			return artifactResult{}, false
		}
		return artifact, true
	}
	return artifactResult{}, false
}
