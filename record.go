package qanat

import "context"

// ToolCallRecord statuses. A record is registered as STARTED when the
// loop dispatches the call and resolved to exactly one of COMPLETED or
// FAILED when it returns.
const (
	StatusStarted   = "STARTED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// ToolCallRecord is the observability record of one tool invocation
// within a turn. One record per invocation regardless of which tool ran.
// Records are not persisted; the list for a turn is emitted once on the
// agent-history stream event.
type ToolCallRecord struct {
	Step       int    `json:"step"`
	ToolName   string `json:"toolName"`
	Input      string `json:"input"`
	Result     string `json:"result,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Status     string `json:"status"`
}

// Recorder collects the tool-call records and retrieval citations of a
// single turn. One Recorder per request; it is confined to the goroutine
// driving the loop and handed over whole at turn end.
type Recorder struct {
	records []ToolCallRecord
	sources []SourceRef
}

func NewRecorder() *Recorder { return &Recorder{} }

// Start registers a STARTED record and returns its index for Resolve.
func (r *Recorder) Start(step int, toolName, input string) int {
	r.records = append(r.records, ToolCallRecord{
		Step:     step,
		ToolName: toolName,
		Input:    input,
		Status:   StatusStarted,
	})
	return len(r.records) - 1
}

// Resolve finalises the record at idx.
func (r *Recorder) Resolve(idx int, result string, durationMs int64, failed bool) {
	if idx < 0 || idx >= len(r.records) {
		return
	}
	rec := &r.records[idx]
	rec.Result = result
	rec.DurationMs = durationMs
	if failed {
		rec.Status = StatusFailed
	} else {
		rec.Status = StatusCompleted
	}
}

// AddSources attaches retrieval citations to the turn. The knowledge tool
// reports its matches here so the assistant row can carry them.
func (r *Recorder) AddSources(refs ...SourceRef) {
	r.sources = append(r.sources, refs...)
}

// Records returns the collected records in dispatch order.
func (r *Recorder) Records() []ToolCallRecord {
	if r == nil {
		return nil
	}
	return r.records
}

// Sources returns the collected retrieval citations in report order.
func (r *Recorder) Sources() []SourceRef {
	if r == nil {
		return nil
	}
	return r.sources
}

// --- Context carriage ---
//
// Tools receive their per-request ambience through the context: the
// Recorder and the conversation id. Process-wide ambience (allowed
// directory, embedding and vector clients) is closed over at tool
// construction instead.

type recorderKey struct{}

// WithRecorder returns a context carrying the turn's Recorder.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

// RecorderFrom extracts the turn's Recorder, if any.
func RecorderFrom(ctx context.Context) (*Recorder, bool) {
	rec, ok := ctx.Value(recorderKey{}).(*Recorder)
	return rec, ok
}

type conversationKey struct{}

// WithConversation returns a context carrying the conversation id.
func WithConversation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationFrom extracts the conversation id, if any.
func ConversationFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(conversationKey{}).(string)
	return id, ok
}
