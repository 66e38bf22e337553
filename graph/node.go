package graph

import (
	"context"
	"fmt"

	"github.com/draftloop/draftloop/types"
)

// Node is one unit of the state machine. A node may set scalar state
// fields directly, but new conversation entries are returned and merged
// into the log by the executor, never appended by the node itself.
//
// A node signals suspension by returning an *InterruptError; the
// executor persists the suspension point instead of treating it as a
// failure.
type Node interface {
	Execute(ctx context.Context, state *State) ([]types.Message, error)
}

type NodeFunc func(ctx context.Context, state *State) ([]types.Message, error)

func (f NodeFunc) Execute(ctx context.Context, state *State) ([]types.Message, error) {
	if f == nil {
		return nil, fmt.Errorf("node func is nil")
	}
	return f(ctx, state)
}
