package qanat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestChat(p Provider, store ConversationStore, r Retriever, opts ...AgentOption) *ChatService {
	router := NewRouter(DefaultRouterConfig("local-test", ""))
	router.Register("local-test", p, TagLocal)
	return NewChatService(router, store, r, opts...)
}

func TestChatRunChatPersistsWithSources(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{{Content: "刘备跃马檀溪出自第三十四回。"}}}
	st := newMemStore()
	r := &mockRetriever{segs: []Segment{
		{Text: "三国演义第三十四章主要讲述刘备跃马檀溪脱险", Metadata: SegmentMeta{Filename: "三国演义34章.txt"}, Score: 0.82},
		{Text: "另一段相关内容", Metadata: SegmentMeta{Filename: "notes.txt"}, Score: 0.61},
	}}
	s := newTestChat(p, st, r)

	res, err := s.RunChat(context.Background(), TurnRequest{UserID: "u1", Message: "刘备跃马檀溪是哪一回？"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.ConversationID, ChatConversationPrefix) {
		t.Errorf("ConversationID = %q, want %s prefix", res.ConversationID, ChatConversationPrefix)
	}
	if len(res.Records) != 0 {
		t.Errorf("Records = %d, want 0 on the chat path", len(res.Records))
	}
	if len(res.Sources) != 2 {
		t.Fatalf("Sources = %d, want 2", len(res.Sources))
	}
	if res.Sources[0].Filename != "三国演义34章.txt" || res.Sources[0].Score != 0.82 {
		t.Errorf("Sources[0] = %+v", res.Sources[0])
	}
	if res.Sources[0].Excerpt != "三国演义第三十四章主要讲述刘备跃马檀溪脱险" {
		t.Errorf("Excerpt = %q", res.Sources[0].Excerpt)
	}

	rows := st.all()
	if len(rows) != 2 {
		t.Fatalf("stored rows = %d, want 2", len(rows))
	}
	refs := DecodeSources(rows[1].Sources)
	if len(refs) != 2 || refs[0].Filename != "三国演义34章.txt" {
		t.Errorf("assistant row sources = %+v", refs)
	}
}

func TestChatPromptCarriesNumberedPassages(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{{Content: "答案。"}}}
	r := &mockRetriever{segs: []Segment{
		{Text: "第一段内容", Metadata: SegmentMeta{Filename: "a.txt"}, Score: 0.9},
		{Text: "第二段内容", Metadata: SegmentMeta{}, Score: 0.7},
	}}
	s := newTestChat(p, newMemStore(), r)

	if _, err := s.RunChat(context.Background(), TurnRequest{Message: "问题"}); err != nil {
		t.Fatal(err)
	}

	msgs := p.gotReqs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("prompt messages = %d, want 2 (system + user)", len(msgs))
	}
	sys := msgs[0]
	if sys.Role != RoleSystem {
		t.Fatalf("messages[0].Role = %q, want system", sys.Role)
	}
	for _, want := range []string{
		"你是一个有用的AI助手。请基于提供的上下文回答用户的问题。",
		"相关文档内容:",
		"[1] a.txt\n第一段内容",
		"[2]\n第二段内容",
		"请基于以上文档内容回答问题。如果文档中没有相关信息，请明确告知。",
	} {
		if !strings.Contains(sys.Content, want) {
			t.Errorf("system prompt missing %q:\n%s", want, sys.Content)
		}
	}
}

func TestChatWithoutRetriever(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{{Content: "好的。"}}}
	s := newTestChat(p, newMemStore(), nil)

	if _, err := s.RunChat(context.Background(), TurnRequest{Message: "你好"}); err != nil {
		t.Fatal(err)
	}
	sys := p.gotReqs[0].Messages[0]
	if sys.Content != "你是一个有用的AI助手。请基于提供的上下文回答用户的问题。" {
		t.Errorf("system prompt without retrieval = %q", sys.Content)
	}
}

func TestChatRetrieveErrorAbortsTurn(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{{Content: "不应到达"}}}
	st := newMemStore()
	r := &mockRetriever{err: &ErrVector{Op: "search", Err: errors.New("dial tcp refused")}}
	s := newTestChat(p, st, r)

	_, err := s.RunChat(context.Background(), TurnRequest{Message: "问题"})
	if err == nil {
		t.Fatal("expected retrieval error")
	}
	if KindOf(err) != KindVectorBackend {
		t.Errorf("KindOf(err) = %q, want %q", KindOf(err), KindVectorBackend)
	}
	if len(p.gotReqs) != 0 {
		t.Error("model must not be called when retrieval fails")
	}
	if len(st.all()) != 0 {
		t.Error("failed turn must not persist rows")
	}
}

func TestChatEmptyMessage(t *testing.T) {
	s := newTestChat(&mockProvider{}, newMemStore(), nil)
	_, err := s.RunChat(context.Background(), TurnRequest{Message: "   "})
	if KindOf(err) != KindInvalidInput {
		t.Errorf("KindOf(err) = %q, want %q", KindOf(err), KindInvalidInput)
	}
}

func TestChatEmptyReplyFallback(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{{Content: "  "}}}
	s := newTestChat(p, newMemStore(), nil)

	res, err := s.RunChat(context.Background(), TurnRequest{Message: "你好"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != emptyReplyFallback {
		t.Errorf("Reply = %q, want fallback", res.Reply)
	}
}

func TestChatStreamNoHistoryEvent(t *testing.T) {
	p := &mockProvider{responses: []ChatResponse{{Content: "第一句。第二句。"}}}
	st := newMemStore()
	s := newTestChat(p, st, nil, WithSegmentPace(time.Millisecond))

	ch := make(chan TurnEvent)
	var res TurnResult
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = s.StreamChat(context.Background(), TurnRequest{Message: "你好"}, ch)
	}()
	events := drainEvents(ch)
	<-done
	if err != nil {
		t.Fatal(err)
	}

	want := []TurnEventType{EventMessage, EventMessage, EventDone}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for _, ev := range events {
		if ev.Type == EventAgentHistory {
			t.Fatal("chat stream must not emit agent-history")
		}
	}
	if events[2].Data != res.ConversationID {
		t.Errorf("done = %q, want %q", events[2].Data, res.ConversationID)
	}
	if len(st.all()) != 2 {
		t.Errorf("stored rows = %d, want 2", len(st.all()))
	}
}

func TestChatStreamRetrieveError(t *testing.T) {
	r := &mockRetriever{err: &ErrVector{Op: "search", Err: errors.New("unavailable")}}
	s := newTestChat(&mockProvider{}, newMemStore(), r)

	ch := make(chan TurnEvent)
	go s.StreamChat(context.Background(), TurnRequest{Message: "问题"}, ch)
	events := drainEvents(ch)

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %v, want single error", eventTypes(events))
	}
	if events[0].Data != "向量检索服务暂时不可用" {
		t.Errorf("error event = %q", events[0].Data)
	}
}

func TestChatConversationsAndDelete(t *testing.T) {
	st := newMemStore()
	st.append(Message{ConversationID: "chat-old", UserID: "u1", Role: RoleUser, Content: "a", CreatedAt: 100})
	st.append(Message{ConversationID: "chat-new", UserID: "u1", Role: RoleUser, Content: "b", CreatedAt: 200})
	st.append(Message{ConversationID: "agent-x", UserID: "u1", Role: RoleUser, Content: "c", CreatedAt: 300})
	s := newTestChat(&mockProvider{}, st, nil)

	ids, err := s.Conversations(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "chat-new" || ids[1] != "chat-old" {
		t.Errorf("ids = %v, want [chat-new chat-old]", ids)
	}

	if err := s.DeleteConversation(context.Background(), "chat-old"); err != nil {
		t.Fatal(err)
	}
	ids, _ = s.Conversations(context.Background(), "u1")
	if len(ids) != 1 || ids[0] != "chat-new" {
		t.Errorf("ids after delete = %v", ids)
	}
}

func TestChatClearHistory(t *testing.T) {
	st := newMemStore()
	st.append(Message{ConversationID: "chat-1", UserID: "u1", Role: RoleUser, Content: "a", CreatedAt: 1})
	st.append(Message{ConversationID: "agent-1", UserID: "u1", Role: RoleUser, Content: "b", CreatedAt: 2})
	s := newTestChat(&mockProvider{}, st, nil)

	if err := s.ClearHistory(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.all()) != 0 {
		t.Errorf("rows after clear = %d, want 0", len(st.all()))
	}
}
