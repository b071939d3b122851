package qanat

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSegmentText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"no terminator", "你好", []string{"你好"}},
		{"cjk sentences", "你好。很高兴认识你！", []string{"你好。", "很高兴认识你！"}},
		{"ascii terminators", "Hi. Ready? Go!", []string{"Hi.", " Ready?", " Go!"}},
		{"newline", "第一行\n第二行", []string{"第一行\n", "第二行"}},
		{"trailing remainder", "结束。然后", []string{"结束。", "然后"}},
		{"mixed", "利率为5%。Monthly payment is 1060.66 yuan.", []string{"利率为5%。", "Monthly payment is 1060.", "66 yuan."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SegmentText(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("SegmentText(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("SegmentText(%q) = %q, want %q", tt.in, got, tt.want)
				}
			}
			if strings.Join(got, "") != tt.in {
				t.Errorf("segments do not concatenate back to input: %q", got)
			}
		})
	}
}

func TestEmitTurnSkipsBlankSegments(t *testing.T) {
	res := TurnResult{ConversationID: "agent-1", Reply: "第一句。\n \n第二句。"}
	ch := make(chan TurnEvent, 16)
	go func() {
		EmitTurn(context.Background(), ch, res, true, 0)
		close(ch)
	}()
	events := drainEvents(ch)

	var msgs []string
	for _, ev := range events {
		if ev.Type == EventMessage {
			msgs = append(msgs, ev.Data)
		}
	}
	if len(msgs) != 2 {
		t.Fatalf("message events = %q, want 2", msgs)
	}
	if msgs[0] != "第一句。" || msgs[1] != "第二句。" {
		t.Errorf("messages = %q", msgs)
	}
}

func TestEmitTurnWithoutHistory(t *testing.T) {
	res := TurnResult{ConversationID: "chat-1", Reply: "好的。"}
	ch := make(chan TurnEvent, 16)
	go func() {
		EmitTurn(context.Background(), ch, res, false, 0)
		close(ch)
	}()
	events := drainEvents(ch)

	want := []TurnEventType{EventMessage, EventDone}
	got := eventTypes(events)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[1].Data != "chat-1" {
		t.Errorf("done = %q, want chat-1", events[1].Data)
	}
}

func TestEmitTurnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := TurnResult{ConversationID: "agent-1", Reply: "不会到达。"}
	ch := make(chan TurnEvent)
	EmitTurn(ctx, ch, res, true, 0)
	// Returning without a receiver on an unbuffered channel proves nothing
	// was sent.
}

func TestUserFacingError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ErrHTTP{Status: 504, Body: "upstream timeout"}, "模型调用超时，请稍后重试"},
		{&ErrLLM{Provider: "ollama", Message: "connection refused"}, "模型调用失败，请稍后重试"},
		{&ErrVector{Op: "search", Err: errors.New("dial tcp")}, "向量检索服务暂时不可用"},
		{&ErrStore{Op: "tail", Err: errors.New("disk gone")}, "会话存储暂时不可用"},
		{&ErrKind{Kind: KindInvalidInput, Msg: "empty message"}, "INVALID_INPUT: empty message"},
	}
	for _, tt := range tests {
		if got := userFacingError(tt.err); got != tt.want {
			t.Errorf("userFacingError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWriteSSEEvent(t *testing.T) {
	var b strings.Builder
	if err := WriteSSEEvent(&b, "message", "你好。"); err != nil {
		t.Fatal(err)
	}
	want := "event: message\ndata: 你好。\n\n"
	if b.String() != want {
		t.Errorf("frame = %q, want %q", b.String(), want)
	}
}

func TestWriteSSEEventMultiline(t *testing.T) {
	var b strings.Builder
	if err := WriteSSEEvent(&b, "message", "第一行\n第二行"); err != nil {
		t.Fatal(err)
	}
	want := "event: message\ndata: 第一行\ndata: 第二行\n\n"
	if b.String() != want {
		t.Errorf("frame = %q, want %q", b.String(), want)
	}
}

func TestServeSSE(t *testing.T) {
	ch := make(chan TurnEvent, 4)
	ch <- TurnEvent{Type: EventMessage, Data: "你好。"}
	ch <- TurnEvent{Type: EventDone, Data: "agent-1"}
	close(ch)

	rec := httptest.NewRecorder()
	if err := ServeSSE(context.Background(), rec, ch); err != nil {
		t.Fatal(err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	body := rec.Body.String()
	want := "event: message\ndata: 你好。\n\nevent: done\ndata: agent-1\n\n"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestServeSSEContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan TurnEvent)
	rec := httptest.NewRecorder()
	if err := ServeSSE(ctx, rec, ch); err == nil {
		t.Fatal("expected context error")
	}
}
