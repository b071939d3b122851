package qanat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// --- turn execution loop ---

// loopConfig holds everything runLoop needs for one turn.
type loopConfig struct {
	name     string // for logging and span names (e.g. "agent", "chat")
	provider Provider
	registry *ToolRegistry
	toolDefs []ToolDefinition // pre-built definitions, attached to every Chat request
	stepCap  int
	window   *Window
	recorder *Recorder    // never nil for the agent path
	tracer   Tracer       // nil = no tracing
	logger   *slog.Logger // never nil (nopLogger fallback)
}

// loopResult is the outcome of one turn of the loop.
type loopResult struct {
	text     string
	usage    Usage
	degraded bool // step cap exhausted; text carries the apology
}

// defaultStepCap is the maximum number of model calls in one turn.
const defaultStepCap = 8

// maxToolResultRunes is the maximum rune length for a tool result that
// re-enters the window during the loop. Records keep their own shorter
// clip; only the copy the model sees on later steps is bounded here.
const maxToolResultRunes = 100_000

// maxRecordResultRunes caps the result stored on a ToolCallRecord, which
// travels to clients inside the agent-history event.
const maxRecordResultRunes = 500

// emptyReplyFallback replaces an empty final model reply.
const emptyReplyFallback = "抱歉，我暂时无法回答这个问题。可能是因为：\n" +
	"1. 问题表述不够清晰\n" +
	"2. 知识库中没有相关内容\n" +
	"3. 需要更具体的上下文信息\n\n" +
	"请尝试重新表述您的问题，或者提供更多背景信息。"

// stepCapApology is the reply when a turn exhausts its model-call budget
// without reaching a final answer. The client sees a normal turn; the
// degradation shows up only in logs, spans, and counters. Kept to a
// single sentence so it streams as one segment.
const stepCapApology = "抱歉，这个问题的处理步骤超出了单次对话的上限，" +
	"暂时无法给出完整的答案，请尝试把问题拆分成更小的部分后再提问。"

// runLoop drives the tool-calling dialogue until the model produces a
// final text, a terminal error occurs, or the step cap is reached. Tool
// calls execute strictly sequentially in reply order; every invocation
// is registered on cfg.recorder as STARTED and resolved to COMPLETED or
// FAILED with its duration.
//
// Malformed tool arguments (not a JSON object) inject a schema error the
// model can read and correct. A second consecutive reply with malformed
// arguments fails the turn.
func runLoop(ctx context.Context, cfg loopConfig) (loopResult, error) {
	var total Usage
	malformedStreak := 0

	for step := 1; step <= cfg.stepCap; step++ {
		stepCtx := ctx
		var span Span
		if cfg.tracer != nil {
			stepCtx, span = cfg.tracer.Start(ctx, "turn.step",
				IntAttr("step", step),
				BoolAttr("has_tools", len(cfg.toolDefs) > 0))
		}
		endStep := func() {
			if span != nil {
				span.End()
			}
		}

		resp, err := cfg.provider.Chat(stepCtx, ChatRequest{
			Messages: cfg.window.Messages(),
			Tools:    cfg.toolDefs,
		})
		if err != nil {
			if span != nil {
				span.Error(err)
			}
			endStep()
			return loopResult{usage: total}, err
		}
		total.Add(resp.Usage)

		// No tool calls — final reply.
		if len(resp.ToolCalls) == 0 {
			text := resp.Content
			if strings.TrimSpace(text) == "" {
				cfg.logger.Warn("model returned empty reply, substituting fallback",
					"loop", cfg.name, "step", step)
				text = emptyReplyFallback
			}
			cfg.window.Append(AssistantMessage(text))
			endStep()
			return loopResult{text: text, usage: total}, nil
		}

		if span != nil {
			span.SetAttr(IntAttr("tool_count", len(resp.ToolCalls)))
		}

		// The assistant message with its calls re-enters the window so the
		// model sees what it asked for on the next step.
		cfg.window.Append(ChatMessage{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		malformed := false
		for _, tc := range resp.ToolCalls {
			if !validToolArgs(tc.Args) {
				malformed = true
				argsErr := &ErrToolArgs{Tool: tc.Name, Raw: string(tc.Args)}
				idx := cfg.recorder.Start(step, tc.Name, string(tc.Args))
				cfg.recorder.Resolve(idx, argsErr.Error(), 0, true)
				cfg.window.Append(ToolResultMessage(tc.ID, "error: "+argsErr.Error()))
				continue
			}
			content := dispatchToolCall(stepCtx, cfg, step, tc)
			cfg.window.Append(ToolResultMessage(tc.ID, truncateStr(content, maxToolResultRunes)))
		}

		if malformed {
			malformedStreak++
			if malformedStreak >= 2 {
				endStep()
				return loopResult{usage: total},
					&ErrKind{Kind: KindInvalidInput, Msg: "malformed tool arguments in two consecutive replies"}
			}
		} else {
			malformedStreak = 0
		}
		endStep()
	}

	// Step cap reached without a final reply. Soft failure: the turn
	// completes with a fixed apology and is flagged degraded.
	cfg.logger.Warn("step cap reached, returning degraded reply",
		"loop", cfg.name, "cap", cfg.stepCap)
	cfg.window.Append(AssistantMessage(stepCapApology))
	return loopResult{text: stepCapApology, usage: total, degraded: true}, nil
}

// dispatchToolCall executes one tool call and resolves its record.
// Expected failures come back as "error: ..." strings that re-enter the
// window; the loop never aborts on a tool failure.
func dispatchToolCall(ctx context.Context, cfg loopConfig, step int, tc ToolCall) string {
	idx := cfg.recorder.Start(step, tc.Name, string(tc.Args))

	toolCtx := ctx
	var span Span
	if cfg.tracer != nil {
		toolCtx, span = cfg.tracer.Start(ctx, "turn.tool",
			StringAttr("tool.name", tc.Name),
			IntAttr("step", step))
	}

	start := time.Now()
	result, err := cfg.registry.Execute(toolCtx, tc.Name, tc.Args)
	durMs := time.Since(start).Milliseconds()

	content := result.Content
	failed := false
	switch {
	case err != nil:
		content = "error: " + err.Error()
		failed = true
	case result.Error != "":
		content = "error: " + result.Error
		failed = true
	}

	if span != nil {
		if failed {
			span.Error(errors.New(content))
		}
		span.End()
	}
	cfg.recorder.Resolve(idx, truncateStr(content, maxRecordResultRunes), durMs, failed)
	cfg.logger.Debug("tool executed",
		"loop", cfg.name, "tool", tc.Name, "duration_ms", durMs, "failed", failed)
	return content
}

// validToolArgs reports whether raw parses as a JSON object. Empty and
// null arguments count as the empty object: models send no-parameter
// tool calls that way.
func validToolArgs(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(trimmed, &obj) == nil
}

// ErrToolArgs reports tool-call arguments that are not a JSON object.
type ErrToolArgs struct {
	Tool string
	Raw  string
}

func (e *ErrToolArgs) Error() string {
	return fmt.Sprintf("tool %s arguments must be a JSON object matching the declared schema, got %s",
		e.Tool, truncateStr(e.Raw, 120))
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	// Fast path: byte length ≤ n guarantees rune count ≤ n,
	// avoiding the []rune allocation for short/ASCII strings.
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
