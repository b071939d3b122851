package qanat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
)

// mockProvider is a test Provider that returns canned responses.
type mockProvider struct {
	name      string
	responses []ChatResponse // popped in order
	idx       int
	err       error         // returned instead of a response when set
	gotReqs   []ChatRequest // every request seen, for prompt assertions
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.gotReqs = append(m.gotReqs, req)
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	return m.next(), nil
}

func (m *mockProvider) next() ChatResponse {
	if m.idx >= len(m.responses) {
		return ChatResponse{Content: "exhausted"}
	}
	resp := m.responses[m.idx]
	m.idx++
	return resp
}

// --- Tool mocks (shared across loop_test.go, agent_test.go) ---

type mockTool struct{}

func (mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "greet", Description: "Say hello"}}
}

func (mockTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "hello from " + name}, nil
}

type errTool struct{}

func (errTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "fail", Description: "Always fails"}}
}

func (errTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{}, errors.New("tool broken")
}

// citeTool records a retrieval citation through the context recorder,
// the way the knowledge tool does.
type citeTool struct{}

func (citeTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "cite", Description: "Cites a source"}}
}

func (citeTool) Execute(ctx context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	if rec, ok := RecorderFrom(ctx); ok {
		rec.AddSources(SourceRef{Filename: "doc.txt", Excerpt: "第一章", Score: 0.91})
	}
	return ToolResult{Content: "cited"}, nil
}

// --- Retrieval mocks ---

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = m.vec
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return len(m.vec) }
func (m *mockEmbedder) Name() string    { return "mock-embed" }

type mockIndex struct {
	segs   []Segment
	err    error
	gotK   int
	gotMin float32
}

func (m *mockIndex) Search(_ context.Context, _ []float32, k int, minScore float32) ([]Segment, error) {
	m.gotK = k
	m.gotMin = minScore
	if m.err != nil {
		return nil, m.err
	}
	return m.segs, nil
}

type mockRetriever struct {
	segs []Segment
	err  error
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, _ int) ([]Segment, error) {
	return m.segs, m.err
}

// --- In-memory conversation store ---

// memStore is an in-memory ConversationStore for turn tests.
type memStore struct {
	mu     sync.Mutex
	rows   []Message
	nextID int64
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) append(m Message) int64 {
	s.nextID++
	m.ID = s.nextID
	s.rows = append(s.rows, m)
	return m.ID
}

func (s *memStore) Append(_ context.Context, m Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(m), nil
}

func (s *memStore) AppendTurn(_ context.Context, user, assistant Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(user)
	s.append(assistant)
	return nil
}

func (s *memStore) Tail(_ context.Context, conversationID string, n int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var got []Message
	for i := len(s.rows) - 1; i >= 0 && len(got) < n; i-- {
		if s.rows[i].ConversationID == conversationID {
			got = append(got, s.rows[i])
		}
	}
	return got, nil
}

func (s *memStore) History(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var got []Message
	for _, m := range s.rows {
		if m.ConversationID == conversationID {
			got = append(got, m)
		}
	}
	return got, nil
}

func (s *memStore) ConversationsFor(_ context.Context, userID, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[string]int64{}
	for _, m := range s.rows {
		if m.UserID == userID && strings.HasPrefix(m.ConversationID, prefix) {
			if m.CreatedAt >= latest[m.ConversationID] {
				latest[m.ConversationID] = m.CreatedAt
			}
		}
	}
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return latest[ids[i]] > latest[ids[j]] })
	return ids, nil
}

func (s *memStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, m := range s.rows {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	s.rows = kept
	return nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	return nil
}

func (s *memStore) Init(_ context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

func (s *memStore) all() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.rows))
	copy(out, s.rows)
	return out
}

// failStore wraps memStore and fails selected operations.
type failStore struct {
	memStore
	failTail       bool
	failAppendTurn bool
}

func (s *failStore) Tail(ctx context.Context, conversationID string, n int) ([]Message, error) {
	if s.failTail {
		return nil, &ErrStore{Op: "tail", Err: errors.New("disk gone")}
	}
	return s.memStore.Tail(ctx, conversationID, n)
}

func (s *failStore) AppendTurn(ctx context.Context, user, assistant Message) error {
	if s.failAppendTurn {
		return &ErrStore{Op: "append_turn", Err: errors.New("disk gone")}
	}
	return s.memStore.AppendTurn(ctx, user, assistant)
}

// --- Event collection ---

// drainEvents reads ch to close and returns everything received.
func drainEvents(ch <-chan TurnEvent) []TurnEvent {
	var out []TurnEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// eventTypes projects the Type column of a received event slice.
func eventTypes(events []TurnEvent) []TurnEventType {
	out := make([]TurnEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
