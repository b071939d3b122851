// Package app is the HTTP layer: it mounts the agent and chat services
// on a chi router, streams turns as Server-Sent Events, and guards every
// conversation endpoint behind an Authenticator.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	qanat "github.com/nevindra/qanat"
	"github.com/nevindra/qanat/observer"
)

// Agent is the tool-calling turn service consumed by the HTTP layer.
type Agent interface {
	StreamTurn(ctx context.Context, req qanat.TurnRequest, ch chan<- qanat.TurnEvent) (qanat.TurnResult, error)
	History(ctx context.Context, userID, conversationID string) ([]qanat.Message, error)
	Conversations(ctx context.Context, userID string) ([]string, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Chat is the retrieval-grounded chat service consumed by the HTTP layer.
type Chat interface {
	StreamChat(ctx context.Context, req qanat.TurnRequest, ch chan<- qanat.TurnEvent) (qanat.TurnResult, error)
	History(ctx context.Context, userID, conversationID string) ([]qanat.Message, error)
	Conversations(ctx context.Context, userID string) ([]string, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ClearHistory(ctx context.Context) error
}

// Compile-time checks that the root services satisfy the HTTP contracts.
var (
	_ Agent = (*qanat.Agent)(nil)
	_ Chat  = (*qanat.ChatService)(nil)
)

// Deps holds injected dependencies for the App.
type Deps struct {
	Agent    Agent
	Chat     Chat
	Auth     Authenticator
	Observer *observer.Instruments // nil disables turn telemetry
	Logger   *slog.Logger
}

// App serves the HTTP API.
type App struct {
	agent Agent
	chat  Chat
	auth  Authenticator
	obs   *observer.Instruments
	log   *slog.Logger
}

// New creates an App. A nil Auth falls back to header identification and
// a nil Logger discards.
func New(deps Deps) *App {
	auth := deps.Auth
	if auth == nil {
		auth = HeaderAuth{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &App{
		agent: deps.Agent,
		chat:  deps.Chat,
		auth:  auth,
		obs:   deps.Observer,
		log:   logger,
	}
}

// Handler builds the route tree.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recovery(a.log))
	r.Use(requestLogger(a.log))

	r.Get("/healthz", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireUser(a.auth))

		r.Post("/agent/stream", a.handleAgentStream)
		r.Get("/agent/history/{conversationId}", a.handleAgentHistory)
		r.Get("/agent/conversations", a.handleAgentConversations)
		r.Delete("/agent/conversations/{conversationId}", a.handleAgentDelete)

		r.Post("/chat/stream", a.handleChatStream)
		r.Get("/chat/history/{conversationId}", a.handleChatHistory)
		r.Get("/chat/conversations", a.handleChatConversations)
		r.Delete("/chat/conversations/{conversationId}", a.handleChatDelete)
		r.Delete("/chat/history", a.handleChatClear)
	})

	return r
}

// Run serves the API on addr until ctx is cancelled, then drains with a
// short grace period. WriteTimeout stays 0 so SSE responses can outlive
// slow turns.
func (a *App) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     a.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	a.log.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
