package llm

import (
	"context"
	"errors"

	"github.com/draftloop/draftloop/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

type Capabilities struct {
	Tools            bool
	ForcedToolChoice bool
}

// Provider is the opaque model boundary. The engine sequences calls to
// it and observes the returned message; everything inside Generate is
// out of the engine's hands.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}
