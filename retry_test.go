package qanat

import (
	"context"
	"testing"
	"time"
)

// stubProvider is a test Provider that returns pre-configured results in order.
type stubProvider struct {
	calls   int
	results []stubResult
}

type stubResult struct {
	resp ChatResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) next() stubResult {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i]
	}
	return stubResult{}
}

func (s *stubProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	r := s.next()
	return r.resp, r.err
}

var _ Provider = (*stubProvider)(nil)

func TestWithRetry_Chat_SucceedsFirstAttempt(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "hello"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want %q", resp.Content, "hello")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_Chat_RetriesOn503(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 503, Body: "unavailable"}},
		{resp: ChatResponse{Content: "hello"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want %q", resp.Content, "hello")
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_Chat_RetriesOn429(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429, Body: "rate limited"}},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_Chat_DoesNotRetryNonTransient(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 500, Body: "internal error"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry for 500)", stub.calls)
	}
}

func TestWithRetry_Chat_ExhaustsMaxAttempts(t *testing.T) {
	transient := stubResult{err: &ErrHTTP{Status: 503, Body: "unavailable"}}
	stub := &stubProvider{results: []stubResult{transient, transient, transient, transient}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryMaxAttempts(3))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error after max attempts, got nil")
	}
	if stub.calls != 3 {
		t.Errorf("got %d calls, want 3", stub.calls)
	}
}

func TestWithRetry_Chat_ToolRequestRetriesOn429(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429}},
		{resp: ChatResponse{Content: "done"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	_, err := p.Chat(context.Background(), ChatRequest{
		Tools: []ToolDefinition{{Name: "test"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_Chat_RespectsRetryAfter(t *testing.T) {
	// Server says wait 100ms via Retry-After. Verify the retry waits at least that long
	// even when base delay is 0.
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429, Body: "rate limited", RetryAfter: 100 * time.Millisecond}},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	start := time.Now()
	resp, err := p.Chat(context.Background(), ChatRequest{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("got %q, want %q", resp.Content, "ok")
	}
	if elapsed < 80*time.Millisecond {
		t.Errorf("retry was too fast: %v, expected at least ~100ms from Retry-After", elapsed)
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_Chat_TimeoutExceeded(t *testing.T) {
	// Two transient errors with 100ms Retry-After each. Timeout of 50ms should
	// cause the retry loop to give up after the first attempt's wait.
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429, RetryAfter: 100 * time.Millisecond}},
		{err: &ErrHTTP{Status: 429, RetryAfter: 100 * time.Millisecond}},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryTimeout(50*time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error due to timeout, got nil")
	}
	// Should have made 1 call, then the timeout fires during the wait.
	if stub.calls > 2 {
		t.Errorf("got %d calls, expected at most 2 with 50ms timeout", stub.calls)
	}
}

func TestWithRetry_Chat_TimeoutAllowsSuccess(t *testing.T) {
	// One transient error with no Retry-After, generous timeout — should succeed.
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 503}},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryTimeout(5*time.Second))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("got %q, want %q", resp.Content, "ok")
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

// stubEmbedder is a test EmbeddingProvider that fails a fixed number of times
// before succeeding.
type stubEmbedder struct {
	calls    int
	failures int
	err      error
}

func (s *stubEmbedder) Name() string    { return "stub-embed" }
func (s *stubEmbedder) Dimensions() int { return 4 }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func TestWithEmbeddingRetry_RetriesOn429(t *testing.T) {
	stub := &stubEmbedder{failures: 1, err: &ErrHTTP{Status: 429}}
	p := WithEmbeddingRetry(stub, RetryBaseDelay(0))

	vecs, err := p.Embed(context.Background(), []string{"债券久期"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vecs))
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithEmbeddingRetry_DoesNotRetryNonTransient(t *testing.T) {
	stub := &stubEmbedder{failures: 3, err: &ErrHTTP{Status: 401, Body: "bad key"}}
	p := WithEmbeddingRetry(stub, RetryBaseDelay(0))

	_, err := p.Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry for 401)", stub.calls)
	}
}
