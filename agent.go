package qanat

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// defaultContextWindow is the number of persisted messages loaded into the
// window at the start of a turn.
const defaultContextWindow = 10

// DefaultAgentPreamble is the system prompt installed when WithPreamble is
// not given: a financial-regulation QA assistant with retrieval, file, and
// calculator tools.
const DefaultAgentPreamble = `你是一个专业的金融知识智能助手。你的职责是帮助用户解答金融监管、政策法规等问题。

## 可用工具

你可以使用以下工具来获取信息：
1. **searchKnowledge** - 在知识库中搜索相关的金融监管文档和法规
2. **readFile** - 读取用户上传的文件内容（参数：文件路径，如 uploads/agent-xxx/文件名.txt）
3. **listDirectory** - 列出目录中的文件（查看用户上传了哪些文件）
4. **searchFiles** - 在文件中搜索特定内容
5. **calculate** - 执行数学计算
6. **calculateAmortization** - 计算贷款月供
7. **calculateIRR** / **calculateNPV** - 计算内部收益率和净现值
8. **calculateBondPrice** / **calculateBondDuration** - 债券定价、久期和凸性
9. **calculateOptionPrice** - 期权定价（Black-Scholes）
10. **getCurrentTime** - 获取当前时间
11. **getWeather** - 查询天气
12. **fetchWebPage** - 抓取网页正文

## 工作流程

1. **理解问题** - 仔细分析用户的问题和需求
2. **判断数据来源** - 知识库？使用 searchKnowledge。用户上传的文件？先使用 listDirectory 查看，再使用 readFile 读取。两者结合？先搜索知识库，再读取用户文件
3. **调用工具** - 调用相应的工具获取信息
4. **生成答案** - **非常重要**：基于工具返回的结果，用你自己的话生成清晰、完整、准确的答案

## 重要提示

- **不要返回工具调用的原始信息**（如 JSON、工具名称等）
- **必须基于工具结果生成最终的答案**
- 如果知识库搜索返回多个文档，**综合所有文档内容**，提炼关键信息回答用户
- 如果用户上传了文件，**务必读取文件内容**，结合知识库一起回答
- 保持答案**简洁、准确、友好、专业**`

// serviceConfig holds shared configuration for Agent and ChatService.
type serviceConfig struct {
	tools         []Tool
	preamble      string        // set by WithPreamble
	stepCap       int           // set by WithStepCap
	contextWindow int           // set by WithContextWindow
	maxResults    int           // set by WithMaxResults (chat path)
	pace          time.Duration // set by WithSegmentPace
	tracer        Tracer        // set by WithTracer
	logger        *slog.Logger  // set by WithLogger
}

// AgentOption configures an Agent or ChatService.
type AgentOption func(*serviceConfig)

// WithTools adds tools to the agent's registry. Ignored by ChatService.
func WithTools(tools ...Tool) AgentOption {
	return func(c *serviceConfig) { c.tools = append(c.tools, tools...) }
}

// WithPreamble sets the system prompt for the tool-calling loop. The empty
// string keeps DefaultAgentPreamble.
func WithPreamble(s string) AgentOption {
	return func(c *serviceConfig) { c.preamble = s }
}

// WithStepCap sets the maximum number of model calls per turn.
func WithStepCap(n int) AgentOption {
	return func(c *serviceConfig) { c.stepCap = n }
}

// WithContextWindow sets how many persisted messages are loaded into the
// window at the start of a turn.
func WithContextWindow(n int) AgentOption {
	return func(c *serviceConfig) { c.contextWindow = n }
}

// WithMaxResults sets the retrieval depth for the chat path. Ignored by
// Agent, whose retrieval depth belongs to the knowledge tool.
func WithMaxResults(n int) AgentOption {
	return func(c *serviceConfig) { c.maxResults = n }
}

// WithSegmentPace sets the delay between streamed message segments.
func WithSegmentPace(d time.Duration) AgentOption {
	return func(c *serviceConfig) { c.pace = d }
}

// WithTracer sets the tracer. When set, turns emit spans for the turn, each
// loop step, and each tool call. Use observer.NewTracer() for an OTEL-backed
// implementation.
func WithTracer(t Tracer) AgentOption {
	return func(c *serviceConfig) { c.tracer = t }
}

// WithLogger sets the structured logger. If not set, a no-op logger is used
// (no output).
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *serviceConfig) { c.logger = l }
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

func buildServiceConfig(opts []AgentOption) serviceConfig {
	var c serviceConfig
	for _, opt := range opts {
		opt(&c)
	}
	if c.preamble == "" {
		c.preamble = DefaultAgentPreamble
	}
	if c.stepCap <= 0 {
		c.stepCap = defaultStepCap
	}
	if c.contextWindow <= 0 {
		c.contextWindow = defaultContextWindow
	}
	if c.maxResults <= 0 {
		c.maxResults = defaultChatResults
	}
	if c.pace <= 0 {
		c.pace = defaultSegmentPace
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// TurnRequest is one user message entering the agent or chat path.
type TurnRequest struct {
	ConversationID string // empty starts a new conversation
	UserID         string
	Message        string
}

// TurnResult is a completed turn.
type TurnResult struct {
	ConversationID string
	Reply          string
	Records        []ToolCallRecord // nil on the chat path
	Sources        []SourceRef
	Decision       RoutingDecision
	Usage          Usage
	Degraded       bool // step cap exhausted; Reply carries the apology
}

// Agent drives the tool-calling path. One RunTurn routes a model, loads
// the conversation tail into a bounded window, runs the tool-calling loop
// against the registry, and persists the user and assistant rows in one
// transaction before any streaming starts.
type Agent struct {
	router   *Router
	store    ConversationStore
	registry *ToolRegistry
	toolDefs []ToolDefinition
	cfg      serviceConfig
}

// NewAgent creates an Agent over a model router and a conversation store.
func NewAgent(router *Router, store ConversationStore, opts ...AgentOption) *Agent {
	cfg := buildServiceConfig(opts)
	a := &Agent{
		router:   router,
		store:    store,
		registry: NewToolRegistry(),
		cfg:      cfg,
	}
	for _, t := range cfg.tools {
		a.registry.Add(t)
	}
	a.toolDefs = a.registry.AllDefinitions()
	return a
}

// RunTurn executes one agent turn to completion and returns the reply with
// its per-invocation tool records and retrieval sources. The rows are
// persisted before RunTurn returns; streaming is StreamTurn's job.
func (a *Agent) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, &ErrKind{Kind: KindInvalidInput, Msg: "empty message"}
	}
	convID := req.ConversationID
	if convID == "" {
		convID = NewConversationID(AgentConversationPrefix)
	}

	if a.cfg.tracer != nil {
		var span Span
		ctx, span = a.cfg.tracer.Start(ctx, "agent.turn",
			StringAttr("conversation.id", convID))
		defer span.End()

		res, err := a.runTurn(ctx, req, convID)
		span.SetAttr(
			StringAttr("model.id", res.Decision.ModelID),
			StringAttr("route.business_type", string(res.Decision.BusinessType)),
			IntAttr("tokens.input", res.Usage.InputTokens),
			IntAttr("tokens.output", res.Usage.OutputTokens),
			BoolAttr("turn.degraded", res.Degraded))
		if err != nil {
			span.Error(err)
			span.SetAttr(StringAttr("turn.status", "error"))
		} else {
			span.SetAttr(StringAttr("turn.status", "ok"))
		}
		return res, err
	}
	return a.runTurn(ctx, req, convID)
}

func (a *Agent) runTurn(ctx context.Context, req TurnRequest, convID string) (TurnResult, error) {
	handle, decision := a.router.Route(req.Message)
	a.cfg.logger.Info("agent turn started",
		"conversation", convID,
		"model", handle.ID,
		"business_type", decision.BusinessType)

	rec := NewRecorder()
	ctx = WithConversation(ctx, convID)
	ctx = WithRecorder(ctx, rec)

	window := NewWindow(a.cfg.contextWindow)
	window.SetPreamble(a.cfg.preamble)
	rows, err := a.store.Tail(ctx, convID, a.cfg.contextWindow)
	if err != nil {
		return TurnResult{ConversationID: convID, Decision: decision}, err
	}
	window.LoadHistory(rows)
	window.Append(UserMessage(req.Message))

	res, err := runLoop(ctx, loopConfig{
		name:     "agent",
		provider: handle.Provider,
		registry: a.registry,
		toolDefs: a.toolDefs,
		stepCap:  a.cfg.stepCap,
		window:   window,
		recorder: rec,
		tracer:   a.cfg.tracer,
		logger:   a.cfg.logger,
	})
	if err != nil {
		return TurnResult{ConversationID: convID, Decision: decision, Usage: res.usage}, err
	}

	now := NowUnix()
	turn := [2]Message{
		{ConversationID: convID, UserID: req.UserID, Role: RoleUser, Content: req.Message, CreatedAt: now},
		{ConversationID: convID, UserID: req.UserID, Role: RoleAssistant, Content: res.text,
			Sources: EncodeSources(rec.Sources()), CreatedAt: now},
	}
	if err := a.store.AppendTurn(ctx, turn[0], turn[1]); err != nil {
		return TurnResult{ConversationID: convID, Decision: decision, Usage: res.usage}, err
	}

	if res.degraded {
		a.cfg.logger.Warn("turn degraded by step cap", "conversation", convID, "cap", a.cfg.stepCap)
	}
	a.cfg.logger.Info("agent turn completed",
		"conversation", convID,
		"tool_calls", len(rec.Records()),
		"tokens.input", res.usage.InputTokens,
		"tokens.output", res.usage.OutputTokens)

	return TurnResult{
		ConversationID: convID,
		Reply:          res.text,
		Records:        rec.Records(),
		Sources:        rec.Sources(),
		Decision:       decision,
		Usage:          res.usage,
		Degraded:       res.degraded,
	}, nil
}

// StreamTurn runs the turn and emits it into ch as typed stream events:
// paced message segments, one agent-history event, then done. On terminal
// failure a single error event is emitted instead. The channel is closed
// when emission finishes.
//
// The turn itself runs on a detached context: cancelling ctx stops
// emission but never interrupts the model call or persistence, so a client
// disconnect cannot orphan a half-written turn.
func (a *Agent) StreamTurn(ctx context.Context, req TurnRequest, ch chan<- TurnEvent) (TurnResult, error) {
	defer close(ch)
	res, err := a.RunTurn(context.WithoutCancel(ctx), req)
	if err != nil {
		a.cfg.logger.Error("agent turn failed",
			"conversation", res.ConversationID, "kind", KindOf(err), "error", err)
		emitError(ctx, ch, err)
		return res, err
	}
	EmitTurn(ctx, ch, res, true, a.cfg.pace)
	return res, nil
}

// History returns the full ordered message list for one conversation,
// filtered to rows visible to userID. Rows persisted without a user id are
// shared and always visible.
func (a *Agent) History(ctx context.Context, userID, conversationID string) ([]Message, error) {
	rows, err := a.store.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return visibleTo(rows, userID), nil
}

// Conversations lists the caller's agent conversations, newest activity first.
func (a *Agent) Conversations(ctx context.Context, userID string) ([]string, error) {
	return a.store.ConversationsFor(ctx, userID, AgentConversationPrefix)
}

// DeleteConversation removes every row of one conversation.
func (a *Agent) DeleteConversation(ctx context.Context, conversationID string) error {
	return a.store.Delete(ctx, conversationID)
}

// visibleTo filters rows to those owned by userID or owned by nobody.
func visibleTo(rows []Message, userID string) []Message {
	out := make([]Message, 0, len(rows))
	for _, m := range rows {
		if m.UserID == "" || m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}
