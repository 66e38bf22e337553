package graph

import (
	"errors"
	"fmt"

	"github.com/draftloop/draftloop/types"
)

// InterruptError suspends the whole execution at the node that returns
// it. The executor persists the suspension point with the current
// checkpoint and surfaces the record to the caller; no further nodes
// run until a matching resume decision arrives in a fresh call.
type InterruptError struct {
	Record types.InterruptRecord
	NodeID string
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("execution interrupted at node %s awaiting decision on %s", e.NodeID, e.Record.ArtifactID)
}

func NewInterrupt(record types.InterruptRecord) *InterruptError {
	return &InterruptError{Record: record}
}

// AsInterrupt extracts an InterruptError from a node error.
func AsInterrupt(err error) (*InterruptError, bool) {
	var interrupt *InterruptError
	if errors.As(err, &interrupt) {
		return interrupt, true
	}
	return nil, false
}
