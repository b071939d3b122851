package qanat

import (
	"context"
	"fmt"
	"strings"
)

// defaultChatResults is the retrieval depth for the chat path.
const defaultChatResults = 5

// ChatService is the non-agent retrieval path: one routed model call
// grounded on passages retrieved for the question, no tools. Turns are
// persisted with their sources the same way agent turns are.
type ChatService struct {
	router    *Router
	store     ConversationStore
	retriever Retriever
	registry  *ToolRegistry // always empty; satisfies the loop contract
	cfg       serviceConfig
}

// NewChatService creates a ChatService. retriever may be nil, in which
// case turns run without retrieval context.
func NewChatService(router *Router, store ConversationStore, retriever Retriever, opts ...AgentOption) *ChatService {
	return &ChatService{
		router:    router,
		store:     store,
		retriever: retriever,
		registry:  NewToolRegistry(),
		cfg:       buildServiceConfig(opts),
	}
}

// RunChat executes one chat turn to completion: retrieve, build the
// grounded prompt, one model call via the router, persist both rows.
func (s *ChatService) RunChat(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, &ErrKind{Kind: KindInvalidInput, Msg: "empty message"}
	}
	convID := req.ConversationID
	if convID == "" {
		convID = NewConversationID(ChatConversationPrefix)
	}

	if s.cfg.tracer != nil {
		var span Span
		ctx, span = s.cfg.tracer.Start(ctx, "chat.turn",
			StringAttr("conversation.id", convID))
		defer span.End()

		res, err := s.runChat(ctx, req, convID)
		span.SetAttr(
			StringAttr("model.id", res.Decision.ModelID),
			IntAttr("sources", len(res.Sources)),
			IntAttr("tokens.input", res.Usage.InputTokens),
			IntAttr("tokens.output", res.Usage.OutputTokens))
		if err != nil {
			span.Error(err)
			span.SetAttr(StringAttr("turn.status", "error"))
		} else {
			span.SetAttr(StringAttr("turn.status", "ok"))
		}
		return res, err
	}
	return s.runChat(ctx, req, convID)
}

func (s *ChatService) runChat(ctx context.Context, req TurnRequest, convID string) (TurnResult, error) {
	handle, decision := s.router.Route(req.Message)
	s.cfg.logger.Info("chat turn started",
		"conversation", convID,
		"model", handle.ID,
		"business_type", decision.BusinessType)

	var segs []Segment
	if s.retriever != nil {
		var err error
		segs, err = s.retriever.Retrieve(ctx, req.Message, s.cfg.maxResults)
		if err != nil {
			return TurnResult{ConversationID: convID, Decision: decision}, err
		}
	}

	window := NewWindow(s.cfg.contextWindow)
	window.SetPreamble(buildChatPreamble(segs))
	rows, err := s.store.Tail(ctx, convID, s.cfg.contextWindow)
	if err != nil {
		return TurnResult{ConversationID: convID, Decision: decision}, err
	}
	window.LoadHistory(rows)
	window.Append(UserMessage(req.Message))

	res, err := runLoop(ctx, loopConfig{
		name:     "chat",
		provider: handle.Provider,
		registry: s.registry,
		stepCap:  s.cfg.stepCap,
		window:   window,
		recorder: NewRecorder(),
		tracer:   s.cfg.tracer,
		logger:   s.cfg.logger,
	})
	if err != nil {
		return TurnResult{ConversationID: convID, Decision: decision, Usage: res.usage}, err
	}

	srcs := make([]SourceRef, 0, len(segs))
	for _, sg := range segs {
		srcs = append(srcs, SourceRef{
			Filename: sg.Metadata.Filename,
			Excerpt:  truncateStr(sg.Text, 200),
			Score:    sg.Score,
		})
	}

	now := NowUnix()
	user := Message{ConversationID: convID, UserID: req.UserID, Role: RoleUser, Content: req.Message, CreatedAt: now}
	assistant := Message{ConversationID: convID, UserID: req.UserID, Role: RoleAssistant, Content: res.text,
		Sources: EncodeSources(srcs), CreatedAt: now}
	if err := s.store.AppendTurn(ctx, user, assistant); err != nil {
		return TurnResult{ConversationID: convID, Decision: decision, Usage: res.usage}, err
	}

	s.cfg.logger.Info("chat turn completed",
		"conversation", convID,
		"sources", len(srcs),
		"tokens.input", res.usage.InputTokens,
		"tokens.output", res.usage.OutputTokens)

	return TurnResult{
		ConversationID: convID,
		Reply:          res.text,
		Sources:        srcs,
		Decision:       decision,
		Usage:          res.usage,
	}, nil
}

// StreamChat runs the turn and emits it into ch: paced message segments,
// then done. The chat path never emits agent-history. The channel is
// closed when emission finishes; the turn itself runs detached so a
// disconnect never interrupts persistence.
func (s *ChatService) StreamChat(ctx context.Context, req TurnRequest, ch chan<- TurnEvent) (TurnResult, error) {
	defer close(ch)
	res, err := s.RunChat(context.WithoutCancel(ctx), req)
	if err != nil {
		s.cfg.logger.Error("chat turn failed",
			"conversation", res.ConversationID, "kind", KindOf(err), "error", err)
		emitError(ctx, ch, err)
		return res, err
	}
	EmitTurn(ctx, ch, res, false, s.cfg.pace)
	return res, nil
}

// History returns the full ordered message list for one conversation,
// filtered to rows visible to userID.
func (s *ChatService) History(ctx context.Context, userID, conversationID string) ([]Message, error) {
	rows, err := s.store.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return visibleTo(rows, userID), nil
}

// Conversations lists the caller's chat conversations, newest activity first.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]string, error) {
	return s.store.ConversationsFor(ctx, userID, ChatConversationPrefix)
}

// DeleteConversation removes every row of one conversation.
func (s *ChatService) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.store.Delete(ctx, conversationID)
}

// ClearHistory removes every persisted message across all conversations.
func (s *ChatService) ClearHistory(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// buildChatPreamble assembles the grounded system prompt: the assistant
// instruction followed by the numbered retrieved passages.
func buildChatPreamble(segs []Segment) string {
	var b strings.Builder
	b.WriteString("你是一个有用的AI助手。请基于提供的上下文回答用户的问题。")
	if len(segs) == 0 {
		return b.String()
	}
	b.WriteString("\n\n相关文档内容:\n")
	for i, sg := range segs {
		if sg.Metadata.Filename != "" {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, sg.Metadata.Filename)
		} else {
			fmt.Fprintf(&b, "[%d]\n", i+1)
		}
		b.WriteString(sg.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("请基于以上文档内容回答问题。如果文档中没有相关信息，请明确告知。")
	return b.String()
}
