package qanat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// defaultSegmentPace is the delay between consecutive message segments,
// giving clients the feel of incremental output from a non-streaming
// model call.
const defaultSegmentPace = 30 * time.Millisecond

// TurnEventType identifies the kind of stream event. The values double as
// the SSE event names on the wire.
type TurnEventType string

const (
	// EventMessage carries one segment of the assistant reply.
	EventMessage TurnEventType = "message"
	// EventAgentHistory carries the JSON array of tool-call records for
	// the turn. Emitted exactly once per agent turn, never on the chat path.
	EventAgentHistory TurnEventType = "agent-history"
	// EventDone carries the conversation id and terminates the stream.
	EventDone TurnEventType = "done"
	// EventError carries a user-facing failure description and terminates
	// the stream in place of done.
	EventError TurnEventType = "error"
)

// TurnEvent is one item of the producer-consumer stream between a turn
// and its SSE emitter.
type TurnEvent struct {
	Type TurnEventType
	Data string
}

// SegmentText splits text on the sentence terminators .!?。！？ and
// newline, keeping each terminator with the preceding segment.
// Concatenating the returned segments reproduces text exactly.
func SegmentText(text string) []string {
	var segs []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '?', '。', '！', '？', '\n':
			segs = append(segs, text[start:i+utf8.RuneLen(r)])
			start = i + utf8.RuneLen(r)
		}
	}
	if start < len(text) {
		segs = append(segs, text[start:])
	}
	return segs
}

// EmitTurn streams a completed turn into ch: every non-blank segment of
// the reply as a message event with pace between consecutive segments,
// then (when withHistory) exactly one agent-history event carrying the
// JSON tool-call records, then one done event carrying the conversation
// id. Emission stops early when ctx is cancelled; the caller owns
// closing ch.
func EmitTurn(ctx context.Context, ch chan<- TurnEvent, res TurnResult, withHistory bool, pace time.Duration) {
	first := true
	for _, seg := range SegmentText(res.Reply) {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		if !first {
			select {
			case <-time.After(pace):
			case <-ctx.Done():
				return
			}
		}
		first = false
		if !send(ctx, ch, TurnEvent{Type: EventMessage, Data: seg}) {
			return
		}
	}
	if withHistory {
		records := res.Records
		if records == nil {
			records = []ToolCallRecord{}
		}
		data, err := json.Marshal(records)
		if err != nil {
			data = []byte("[]")
		}
		if !send(ctx, ch, TurnEvent{Type: EventAgentHistory, Data: string(data)}) {
			return
		}
	}
	send(ctx, ch, TurnEvent{Type: EventDone, Data: res.ConversationID})
}

// emitError sends the single error event that replaces a turn's stream on
// terminal failure.
func emitError(ctx context.Context, ch chan<- TurnEvent, err error) {
	send(ctx, ch, TurnEvent{Type: EventError, Data: userFacingError(err)})
}

func send(ctx context.Context, ch chan<- TurnEvent, ev TurnEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// userFacingError renders err for the error event. Input errors keep
// their message; backend failures map to fixed texts so internal detail
// never reaches clients.
func userFacingError(err error) string {
	switch KindOf(err) {
	case KindProviderTimeout:
		return "模型调用超时，请稍后重试"
	case KindProviderRejected:
		return "模型调用失败，请稍后重试"
	case KindVectorBackend:
		return "向量检索服务暂时不可用"
	case KindStore:
		return "会话存储暂时不可用"
	default:
		return err.Error()
	}
}

// WriteSSEEvent writes one Server-Sent Events frame to w and flushes when
// w implements http.Flusher. Multi-line data becomes one data: line per
// payload line, per SSE framing.
func WriteSSEEvent(w io.Writer, event, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// ServeSSE sets the SSE response headers and drains events into w as SSE
// frames until the channel closes or ctx is cancelled. The producer owns
// closing the channel; a cancelled ctx only stops emission.
func ServeSSE(ctx context.Context, w http.ResponseWriter, events <-chan TurnEvent) error {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return fmt.Errorf("response writer does not implement http.Flusher")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := WriteSSEEvent(w, string(ev.Type), ev.Data); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
