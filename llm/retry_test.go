package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/draftloop/draftloop/types"
)

type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Name() string               { return "flaky" }
func (p *flakyProvider) Capabilities() Capabilities { return Capabilities{Tools: true} }
func (p *flakyProvider) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	p.calls++
	if p.calls <= p.failures {
		return types.Response{}, errors.New("transient failure")
	}
	return types.Response{Message: types.Message{Role: types.RoleAssistant, Content: "ok"}}, nil
}

func TestRetryProvider_EventualSuccess(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	p := WithRetries(inner, RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	resp, err := p.Generate(context.Background(), types.Request{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Fatalf("unexpected content: %q", resp.Message.Content)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryProvider_Exhausted(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	p := WithRetries(inner, RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	if _, err := p.Generate(context.Background(), types.Request{}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", inner.calls)
	}
}

func TestRetryProvider_ContextCancelled(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	p := WithRetries(inner, RetryPolicy{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Generate(ctx, types.Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffForAttempt(t *testing.T) {
	p := normalizePolicy(RetryPolicy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 350 * time.Millisecond})
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{4, 350 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.backoffForAttempt(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
