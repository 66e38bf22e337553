// Package engine assembles the drafting assistant: a five-node
// execution graph that classifies the user's intent, invokes the
// model, runs requested tools, tracks artifact side effects, and
// pauses for human review of generated drafts.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/draftloop/draftloop/checkpoint"
	"github.com/draftloop/draftloop/graph"
	"github.com/draftloop/draftloop/llm"
	"github.com/draftloop/draftloop/observe"
	"github.com/draftloop/draftloop/tools"
	"github.com/draftloop/draftloop/types"
)

const (
	NodeClassify    = "classify"
	NodeAgent       = "agent"
	NodeTools       = "tools"
	NodeAfterTools  = "after_tools"
	NodeHumanReview = "human_review"
)

const defaultSystemPrompt = "You are a drafting assistant. Use the available tools " +
	"to research, validate, and produce documents the user asks for."

// Engine drives one conversation thread at a time through the drafting
// graph. Construct it once with its collaborators and share it across
// threads; per-thread state lives in the checkpoint store.
type Engine struct {
	provider llm.Provider
	registry *tools.Registry
	executor *graph.Executor

	model           string
	systemPrompt    string
	maxOutputTokens int
	logger          *zap.Logger
	observer        observe.Sink
}

type Option func(*Engine)

func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.model = model
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		if prompt != "" {
			e.systemPrompt = prompt
		}
	}
}

func WithMaxOutputTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxOutputTokens = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(observer observe.Sink) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

func New(provider llm.Provider, registry *tools.Registry, store checkpoint.Store, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if len(registry.Names()) > 0 && !provider.Capabilities().Tools {
		return nil, fmt.Errorf("provider %q cannot drive a tool registry: %w",
			provider.Name(), llm.ErrNotSupported)
	}

	e := &Engine{
		provider:     provider,
		registry:     registry,
		systemPrompt: defaultSystemPrompt,
		logger:       zap.NewNop(),
		observer:     observe.NoopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}

	executor, err := graph.NewExecutor(e.buildGraph(), store,
		graph.WithLogger(e.logger),
		graph.WithObserver(e.observer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build drafting graph: %w", err)
	}
	e.executor = executor
	return e, nil
}

// buildGraph wires the fixed node set. Edge conditions are evaluated
// in insertion order; a step with no matching edge ends the turn.
func (e *Engine) buildGraph() *graph.Graph {
	return graph.New("draftloop").
		AddNode(NodeClassify, graph.NodeFunc(e.classify)).
		AddNode(NodeAgent, graph.NodeFunc(e.agent)).
		AddNode(NodeTools, graph.NodeFunc(e.runTools)).
		AddNode(NodeAfterTools, graph.NodeFunc(e.afterTools)).
		AddNode(NodeHumanReview, graph.NodeFunc(e.humanReview)).
		SetStart(NodeClassify).
		AllowCycles(true).
		AddEdge(NodeClassify, NodeAgent, nil).
		AddEdge(NodeAgent, NodeTools, lastMessageHasToolCalls).
		AddEdge(NodeTools, NodeAfterTools, nil).
		AddEdge(NodeAfterTools, NodeHumanReview, artifactAwaitingReview).
		AddEdge(NodeAfterTools, NodeAgent, nil).
		AddEdge(NodeHumanReview, NodeAgent, decisionWasRefine)
}

// Start runs one turn with a new user message.
func (e *Engine) Start(ctx context.Context, threadID string, input types.Message) (<-chan graph.Snapshot, error) {
	return e.executor.Start(ctx, threadID, input)
}

// Resume continues a turn suspended at human review.
func (e *Engine) Resume(ctx context.Context, threadID string, decision types.ResumeDecision) (<-chan graph.Snapshot, error) {
	return e.executor.Resume(ctx, threadID, decision)
}

func (e *Engine) PendingInterrupt(ctx context.Context, threadID string) (*types.InterruptRecord, error) {
	return e.executor.PendingInterrupt(ctx, threadID)
}

func (e *Engine) LatestState(ctx context.Context, threadID string) (graph.State, error) {
	return e.executor.LatestState(ctx, threadID)
}

func (e *Engine) MessageCount(ctx context.Context, threadID string) (int, error) {
	return e.executor.MessageCount(ctx, threadID)
}

// DeleteThread removes all persisted state for the thread and reports
// how many messages it held.
func (e *Engine) DeleteThread(ctx context.Context, threadID string) (int, error) {
	return e.executor.DeleteThread(ctx, threadID)
}

func lastMessageHasToolCalls(_ context.Context, state *graph.State) (bool, error) {
	last, ok := state.LastMessage()
	return ok && last.Role == types.RoleAssistant && len(last.ToolCalls) > 0, nil
}

func artifactAwaitingReview(_ context.Context, state *graph.State) (bool, error) {
	return state.ActiveArtifactID != "", nil
}

func decisionWasRefine(_ context.Context, state *graph.State) (bool, error) {
	return state.LastDecision == types.ResumeRefine, nil
}
