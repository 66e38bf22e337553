package stream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draftloop/draftloop/graph"
	"github.com/draftloop/draftloop/types"
)

const (
	errCode           = "EXECUTION_ERROR"
	errFallbackDetail = "agent execution failed"
)

// Runner is the engine surface the pipeline drives: one graph turn per
// call, snapshots streamed over a channel.
type Runner interface {
	Start(ctx context.Context, threadID string, input types.Message) (<-chan graph.Snapshot, error)
	Resume(ctx context.Context, threadID string, decision types.ResumeDecision) (<-chan graph.Snapshot, error)
	PendingInterrupt(ctx context.Context, threadID string) (*types.InterruptRecord, error)
	MessageCount(ctx context.Context, threadID string) (int, error)
	DeleteThread(ctx context.Context, threadID string) (int, error)
}

// MessageCounter supplies the message count reported in the trailing
// metadata event.
type MessageCounter interface {
	MessageCount(ctx context.Context, threadID string) (int, error)
}

// Input is the caller's turn submission: exactly one of a new message
// or a resume decision.
type Input struct {
	Message *types.Message
	Resume  *types.ResumeDecision
}

// Pipeline drives one end-to-end turn: it starts or resumes the graph,
// normalizes every snapshot into events, forwards them as they happen,
// and terminates the stream with exactly one final event, metadata on
// success or a single error event on failure.
type Pipeline struct {
	runner  Runner
	counter MessageCounter
	model   string
	logger  *zap.Logger
	buffer  int
}

type Option func(*Pipeline)

func WithModel(model string) Option {
	return func(p *Pipeline) {
		if model != "" {
			p.model = model
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMessageCounter overrides the count source for metadata events;
// the runner itself is the default.
func WithMessageCounter(counter MessageCounter) Option {
	return func(p *Pipeline) {
		if counter != nil {
			p.counter = counter
		}
	}
}

func WithEventBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.buffer = n
		}
	}
}

func New(runner Runner, opts ...Option) (*Pipeline, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	p := &Pipeline{
		runner:  runner,
		counter: runner,
		logger:  zap.NewNop(),
		buffer:  16,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one turn for the thread and streams its events. The
// caller may consume while the turn is still advancing; the channel
// closes after the final event.
func (p *Pipeline) Run(ctx context.Context, threadID string, input Input) (<-chan types.AgentEvent, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if (input.Message == nil) == (input.Resume == nil) {
		return nil, fmt.Errorf("input must carry exactly one of a message or a resume decision")
	}

	out := make(chan types.AgentEvent, p.buffer)
	go p.runTurn(ctx, threadID, input, out)
	return out, nil
}

// DeleteThread removes all persisted state for the thread, reporting
// its prior message count.
func (p *Pipeline) DeleteThread(ctx context.Context, threadID string) (int, error) {
	return p.runner.DeleteThread(ctx, threadID)
}

func (p *Pipeline) runTurn(ctx context.Context, threadID string, input Input, out chan<- types.AgentEvent) {
	defer close(out)

	normalizer := NewNormalizer()

	snapshots, err := p.start(ctx, threadID, input)
	if err != nil {
		p.sendError(ctx, out, normalizer, err)
		return
	}

	var sawSnapshot bool
	for snap := range snapshots {
		sawSnapshot = true
		if snap.Err != nil {
			p.sendError(ctx, out, normalizer, snap.Err)
			return
		}
		for _, event := range normalizer.Normalize(snap) {
			if !p.send(ctx, out, event) {
				return
			}
		}
	}

	// Consistency safety net: a suspension recorded by this turn but
	// never surfaced as a snapshot is still reported. An ignored resume
	// produces no snapshots and leaves the earlier suspension alone.
	// A failure here must not fail the turn.
	if sawSnapshot && !normalizer.InterruptEmitted() {
		pending, err := p.runner.PendingInterrupt(ctx, threadID)
		if err != nil {
			p.logger.Warn("pending interrupt lookup failed",
				zap.String("thread_id", threadID), zap.Error(err))
		} else if pending != nil {
			for _, event := range normalizer.Normalize(graph.Snapshot{Interrupt: pending}) {
				if !p.send(ctx, out, event) {
					return
				}
			}
		}
	}

	count, err := p.counter.MessageCount(ctx, threadID)
	if err != nil {
		p.logger.Warn("message count lookup failed",
			zap.String("thread_id", threadID), zap.Error(err))
	}

	metadata := normalizer.next(types.AgentEvent{
		Type:    types.EventMetadata,
		IsFinal: true,
		Metadata: &types.MetadataData{
			ConversationID: threadID,
			MessageCount:   count,
			HasToolCalls:   normalizer.HasToolCalls(),
			Usage:          normalizer.Usage(),
			Timestamp:      time.Now().UTC(),
			Model:          p.model,
		},
	})
	p.send(ctx, out, metadata)
}

func (p *Pipeline) start(ctx context.Context, threadID string, input Input) (<-chan graph.Snapshot, error) {
	if input.Message != nil {
		return p.runner.Start(ctx, threadID, *input.Message)
	}
	return p.runner.Resume(ctx, threadID, *input.Resume)
}

func (p *Pipeline) sendError(ctx context.Context, out chan<- types.AgentEvent, normalizer *Normalizer, cause error) {
	p.logger.Warn("turn failed", zap.Error(cause))
	message := errFallbackDetail
	if cause != nil && cause.Error() != "" {
		message = cause.Error()
	}
	event := normalizer.next(types.AgentEvent{
		Type:    types.EventError,
		IsFinal: true,
		Error: &types.ErrorData{
			Code:      errCode,
			Message:   message,
			Retryable: false,
		},
	})
	p.send(ctx, out, event)
}

func (p *Pipeline) send(ctx context.Context, out chan<- types.AgentEvent, event types.AgentEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
