package qanat

// Window is the bounded chat memory for one request. It carries three
// regions: an optional pinned system preamble, history loaded from the
// store (at most cap entries), and the in-flight turn's own messages.
// History is evicted oldest-first on overflow; the preamble and the
// current turn are never evicted, so a zero-capacity window still yields
// a valid turn with no prior history.
//
// A Window is not shared across requests and is not safe for concurrent
// use; the loop that owns it is single-goroutine.
type Window struct {
	preamble    ChatMessage
	hasPreamble bool
	history     []ChatMessage
	turn        []ChatMessage
	cap         int
}

// NewWindow creates a Window covering contextWindow prior turns. The
// internal capacity is twice that (one user plus one assistant message
// per turn).
func NewWindow(contextWindow int) *Window {
	if contextWindow < 0 {
		contextWindow = 0
	}
	return &Window{cap: 2 * contextWindow}
}

// SetPreamble pins a system message at the head of the window.
func (w *Window) SetPreamble(text string) {
	if text == "" {
		w.hasPreamble = false
		return
	}
	w.preamble = SystemMessage(text)
	w.hasPreamble = true
}

// LoadHistory fills the history region from store rows as returned by
// ConversationStore.Tail (newest first). Rows are reversed to ascending
// order. Tool rows are skipped: their call pairing does not survive
// persistence, and models reject orphan tool messages.
func (w *Window) LoadHistory(rows []Message) {
	w.history = w.history[:0]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Role == RoleTool {
			continue
		}
		w.history = append(w.history, ChatMessage{Role: rows[i].Role, Content: rows[i].Content})
	}
	w.evict()
}

// Append adds a message produced during the current request.
func (w *Window) Append(m ChatMessage) {
	w.turn = append(w.turn, m)
	w.evict()
}

// evict drops the oldest history entries until the window fits its cap.
// Only history is dropped; the turn region must stay intact to keep
// tool-call/result pairing coherent.
func (w *Window) evict() {
	for len(w.history) > 0 && len(w.history)+len(w.turn) > w.cap {
		w.history = w.history[1:]
	}
}

// Messages returns the model-facing message list: preamble, history,
// then the current turn.
func (w *Window) Messages() []ChatMessage {
	out := make([]ChatMessage, 0, 1+len(w.history)+len(w.turn))
	if w.hasPreamble {
		out = append(out, w.preamble)
	}
	out = append(out, w.history...)
	out = append(out, w.turn...)
	return out
}

// Len reports the number of non-preamble entries currently held.
func (w *Window) Len() int {
	return len(w.history) + len(w.turn)
}
