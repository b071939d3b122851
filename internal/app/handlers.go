package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	qanat "github.com/nevindra/qanat"
)

// streamRequest is the body of both stream endpoints. An empty
// conversationId starts a new conversation.
type streamRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (a *App) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	turn := qanat.TurnRequest{
		ConversationID: req.ConversationID,
		UserID:         UserIDFromContext(r.Context()),
		Message:        req.Message,
	}
	a.stream(w, r, "agent", func(ctx context.Context, ch chan<- qanat.TurnEvent) (qanat.TurnResult, error) {
		return a.agent.StreamTurn(ctx, turn, ch)
	})
}

func (a *App) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	turn := qanat.TurnRequest{
		ConversationID: req.ConversationID,
		UserID:         UserIDFromContext(r.Context()),
		Message:        req.Message,
	}
	a.stream(w, r, "chat", func(ctx context.Context, ch chan<- qanat.TurnEvent) (qanat.TurnResult, error) {
		return a.chat.StreamChat(ctx, turn, ch)
	})
}

// stream runs one turn as the SSE producer and drains its events into
// the response. The producer owns closing the channel; a client
// disconnect stops emission while the turn itself finishes and persists.
func (a *App) stream(w http.ResponseWriter, r *http.Request, path string, run func(context.Context, chan<- qanat.TurnEvent) (qanat.TurnResult, error)) {
	events := make(chan qanat.TurnEvent)
	go func() {
		start := time.Now()
		res, err := run(r.Context(), events)
		if a.obs != nil {
			ctx := context.WithoutCancel(r.Context())
			a.obs.RecordTurn(ctx, path, res, float64(time.Since(start).Milliseconds()), err)
		}
	}()

	if err := qanat.ServeSSE(r.Context(), w, events); err != nil {
		a.log.Debug("stream closed early", "path", path, "error", err)
	}
}

func (a *App) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationId")
	msgs, err := a.agent.History(r.Context(), UserIDFromContext(r.Context()), convID)
	if err != nil {
		respondError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []qanat.Message{}
	}
	respondJSON(w, msgs, http.StatusOK)
}

func (a *App) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationId")
	msgs, err := a.chat.History(r.Context(), UserIDFromContext(r.Context()), convID)
	if err != nil {
		respondError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []qanat.Message{}
	}
	respondJSON(w, msgs, http.StatusOK)
}

func (a *App) handleAgentConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := a.agent.Conversations(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondError(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, ids, http.StatusOK)
}

func (a *App) handleChatConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := a.chat.Conversations(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondError(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, ids, http.StatusOK)
}

func (a *App) handleAgentDelete(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationId")
	if err := a.agent.DeleteConversation(r.Context(), convID); err != nil {
		respondError(w, "failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationId")
	if err := a.chat.DeleteConversation(r.Context(), convID); err != nil {
		respondError(w, "failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleChatClear(w http.ResponseWriter, r *http.Request) {
	if err := a.chat.ClearHistory(r.Context()); err != nil {
		respondError(w, "failed to clear history", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
