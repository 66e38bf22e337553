package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftloop/draftloop/checkpoint"
	"github.com/draftloop/draftloop/observe"
	"github.com/draftloop/draftloop/types"
)

const defaultSnapshotBuffer = 16

// Snapshot is one observed step of a turn: the state after a node
// completed, or the suspension/failure that ended the turn.
type Snapshot struct {
	State     State
	NodeID    string
	Step      int
	Interrupt *types.InterruptRecord
	Err       error
}

// Executor drives the graph strictly one node per step for a given
// thread. Every completed step commits a checkpoint before the next
// node runs; a crash between steps loses at most the in-flight node's
// work. Distinct threads are independent and may run concurrently.
type Executor struct {
	graph    *Graph
	store    checkpoint.Store
	observer observe.Sink
	logger   *zap.Logger
	buffer   int
}

type ExecutorOption func(*Executor)

func WithObserver(observer observe.Sink) ExecutorOption {
	return func(e *Executor) {
		if observer != nil {
			e.observer = observer
		}
	}
}

func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithSnapshotBuffer(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.buffer = n
		}
	}
}

func NewExecutor(graph *Graph, store checkpoint.Store, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if err := graph.Compile(); err != nil {
		return nil, err
	}
	e := &Executor{
		graph:    graph,
		store:    store,
		observer: observe.NoopSink{},
		logger:   zap.NewNop(),
		buffer:   defaultSnapshotBuffer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start begins a turn with a new input message, restoring any prior
// conversation state for the thread from its latest checkpoint. A new
// input abandons any suspension left by an earlier turn.
func (e *Executor) Start(ctx context.Context, threadID string, input types.Message) (<-chan Snapshot, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}

	st, parentID, step, err := e.restore(ctx, threadID)
	if err != nil {
		return nil, err
	}
	st.PendingInterrupt = nil
	st.AwaitingNode = ""
	st.Resume = nil
	st.Messages = MergeMessages(st.Messages, []types.Message{input})

	// The input itself is committed before any node runs, so a crash
	// during the first step does not lose the user's message.
	inputCkptID, err := e.commit(ctx, &st, parentID, step+1, e.graph.StartNodeID(), "input")
	if err != nil {
		return nil, err
	}

	out := make(chan Snapshot, e.buffer)
	go e.run(ctx, st, e.graph.StartNodeID(), inputCkptID, step+2, out)
	return out, nil
}

// Resume continues a suspended turn with a caller decision. The
// decision must match the pending interrupt; a mismatched or missing
// interrupt id is a no-op and the returned channel yields nothing.
func (e *Executor) Resume(ctx context.Context, threadID string, decision types.ResumeDecision) (<-chan Snapshot, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}

	ckpt, err := e.store.Latest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %q: %w", threadID, err)
	}
	st, err := StateFromMap(ckpt.State)
	if err != nil {
		return nil, err
	}

	if st.PendingInterrupt == nil || st.AwaitingNode == "" ||
		decision.InterruptID == "" || decision.InterruptID != st.PendingInterrupt.InterruptID {
		e.logger.Info("resume ignored: no matching pending interrupt",
			zap.String("thread_id", threadID),
			zap.String("interrupt_id", decision.InterruptID))
		out := make(chan Snapshot)
		close(out)
		return out, nil
	}

	startNode := st.AwaitingNode
	st.Resume = &decision
	st.PendingInterrupt = nil
	st.AwaitingNode = ""

	out := make(chan Snapshot, e.buffer)
	go e.run(ctx, st, startNode, ckpt.ID, ckpt.Metadata.Step+1, out)
	return out, nil
}

// PendingInterrupt reports the suspension recorded in the thread's
// latest checkpoint, if any.
func (e *Executor) PendingInterrupt(ctx context.Context, threadID string) (*types.InterruptRecord, error) {
	st, err := e.LatestState(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return st.PendingInterrupt, nil
}

// LatestState restores the thread state from its latest checkpoint.
func (e *Executor) LatestState(ctx context.Context, threadID string) (State, error) {
	ckpt, err := e.store.Latest(ctx, threadID)
	if err != nil {
		return State{}, err
	}
	return StateFromMap(ckpt.State)
}

// MessageCount returns the length of the thread's conversation log, or
// zero for an unknown thread.
func (e *Executor) MessageCount(ctx context.Context, threadID string) (int, error) {
	st, err := e.LatestState(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return len(st.Messages), nil
}

// DeleteThread removes every checkpoint and pending write for the
// thread, reporting the prior message count.
func (e *Executor) DeleteThread(ctx context.Context, threadID string) (int, error) {
	count, err := e.MessageCount(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if _, err := e.store.DeleteThread(ctx, threadID); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Executor) restore(ctx context.Context, threadID string) (State, string, int, error) {
	ckpt, err := e.store.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return NewState(threadID), "", -1, nil
		}
		return State{}, "", 0, fmt.Errorf("failed to load thread %q: %w", threadID, err)
	}
	st, err := StateFromMap(ckpt.State)
	if err != nil {
		return State{}, "", 0, err
	}
	st.ThreadID = threadID
	return st, ckpt.ID, ckpt.Metadata.Step, nil
}

func (e *Executor) run(ctx context.Context, st State, startNode, parentID string, step int, out chan<- Snapshot) {
	defer close(out)

	turnStarted := time.Now().UTC()
	e.emit(ctx, observe.Event{
		Timestamp: turnStarted,
		ThreadID:  st.ThreadID,
		Kind:      observe.KindTurn,
		Status:    observe.StatusStarted,
		NodeID:    startNode,
		Step:      step,
	})
	turnStatus := observe.StatusCompleted
	defer func() {
		e.emit(ctx, observe.Event{
			ThreadID:   st.ThreadID,
			Kind:       observe.KindTurn,
			Status:     turnStatus,
			DurationMs: time.Since(turnStarted).Milliseconds(),
		})
	}()

	failTurn := func(nodeID string, st State, step int, err error) {
		turnStatus = observe.StatusFailed
		e.fail(ctx, st, nodeID, step, err, out)
	}

	current := startNode
	for current != "" {
		node, ok := e.graph.nodes[current]
		if !ok {
			failTurn(current, st, step, fmt.Errorf("node %q does not exist", current))
			return
		}

		started := time.Now().UTC()
		e.emit(ctx, observe.Event{
			Timestamp: started,
			ThreadID:  st.ThreadID,
			Kind:      observe.KindNode,
			Status:    observe.StatusStarted,
			NodeID:    current,
			Step:      step,
		})

		incoming, err := node.Execute(ctx, &st)
		if err != nil {
			if interrupt, isInterrupt := AsInterrupt(err); isInterrupt {
				interrupt.NodeID = current
				e.suspend(ctx, st, current, parentID, step, interrupt, out)
				return
			}
			e.emit(ctx, observe.Event{
				ThreadID:   st.ThreadID,
				Kind:       observe.KindNode,
				Status:     observe.StatusFailed,
				NodeID:     current,
				Step:       step,
				Error:      err.Error(),
				DurationMs: time.Since(started).Milliseconds(),
			})
			failTurn(current, st, step, fmt.Errorf("node %q failed: %w", current, err))
			return
		}

		// Side effects of this step are recoverable before the
		// checkpoint that owns them commits.
		if len(incoming) > 0 && parentID != "" {
			writes := []checkpoint.PendingWrite{{Channel: "messages", Value: incoming}}
			if err := e.store.PutWrites(ctx, st.ThreadID, parentID, current, writes); err != nil {
				failTurn(current, st, step, fmt.Errorf("failed to record pending writes: %w", err))
				return
			}
		}

		st.Messages = MergeMessages(st.Messages, incoming)
		st.LastNodeID = current

		next, err := e.selectNext(ctx, current, &st)
		if err != nil {
			failTurn(current, st, step, err)
			return
		}

		committedID, err := e.commit(ctx, &st, parentID, step, current, "loop")
		if err != nil {
			failTurn(current, st, step, err)
			return
		}
		parentID = committedID

		e.emit(ctx, observe.Event{
			ThreadID:   st.ThreadID,
			Kind:       observe.KindNode,
			Status:     observe.StatusCompleted,
			NodeID:     current,
			Step:       step,
			DurationMs: time.Since(started).Milliseconds(),
		})

		select {
		case out <- Snapshot{State: st.Clone(), NodeID: current, Step: step}:
		case <-ctx.Done():
			// The step already committed; an abandoned consumer just
			// ends the turn here with no rollback.
			return
		}

		step++
		current = next
	}
}

func (e *Executor) suspend(ctx context.Context, st State, nodeID, parentID string, step int, interrupt *InterruptError, out chan<- Snapshot) {
	st.PendingInterrupt = &interrupt.Record
	st.AwaitingNode = nodeID
	st.LastNodeID = nodeID

	if _, err := e.commit(ctx, &st, parentID, step, nodeID, "interrupt"); err != nil {
		e.fail(ctx, st, nodeID, step, err, out)
		return
	}

	e.emit(ctx, observe.Event{
		ThreadID: st.ThreadID,
		Kind:     observe.KindInterrupt,
		Status:   observe.StatusCompleted,
		NodeID:   nodeID,
		Step:     step,
		Message:  interrupt.Record.ArtifactID,
	})

	record := interrupt.Record
	select {
	case out <- Snapshot{State: st.Clone(), NodeID: nodeID, Step: step, Interrupt: &record}:
	case <-ctx.Done():
	}
}

func (e *Executor) fail(ctx context.Context, st State, nodeID string, step int, err error, out chan<- Snapshot) {
	e.logger.Warn("turn failed",
		zap.String("thread_id", st.ThreadID),
		zap.String("node_id", nodeID),
		zap.Int("step", step),
		zap.Error(err))
	select {
	case out <- Snapshot{State: st.Clone(), NodeID: nodeID, Step: step, Err: err}:
	case <-ctx.Done():
	}
}

func (e *Executor) selectNext(ctx context.Context, from string, st *State) (string, error) {
	for _, edge := range e.graph.edges[from] {
		if edge.Condition == nil {
			return edge.To, nil
		}
		ok, err := edge.Condition(ctx, st)
		if err != nil {
			return "", fmt.Errorf("edge %q -> %q condition failed: %w", edge.From, edge.To, err)
		}
		if ok {
			return edge.To, nil
		}
	}
	return "", nil
}

func (e *Executor) commit(ctx context.Context, st *State, parentID string, step int, nodeID, source string) (string, error) {
	data, err := st.ToMap()
	if err != nil {
		return "", err
	}
	ckpt := checkpoint.Checkpoint{
		ID:       newCheckpointID(),
		ThreadID: st.ThreadID,
		ParentID: parentID,
		State:    data,
		Metadata: checkpoint.Metadata{
			Step:   step,
			Source: source,
			NodeID: nodeID,
		},
		NewVersions: map[string]int64{"messages": int64(len(st.Messages))},
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.Put(ctx, ckpt); err != nil {
		return "", fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	e.emit(ctx, observe.Event{
		ThreadID: st.ThreadID,
		Kind:     observe.KindCheckpoint,
		Status:   observe.StatusCompleted,
		NodeID:   nodeID,
		Step:     step,
		Attributes: map[string]any{
			"checkpoint_id": ckpt.ID,
			"source":        source,
		},
	})
	return ckpt.ID, nil
}

func (e *Executor) emit(ctx context.Context, event observe.Event) {
	if e.observer == nil {
		return
	}
	if err := e.observer.Emit(ctx, event); err != nil {
		e.logger.Debug("observer emit failed", zap.Error(err))
	}
}

// Checkpoint ids are UUIDv7: time-ordered, so the newest id sorts last
// even when two commits share an index score.
func newCheckpointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "ckpt_" + uuid.NewString()
	}
	return "ckpt_" + id.String()
}
