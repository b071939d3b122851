package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/qanat"
)

// ObservedProvider wraps a qanat.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner qanat.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces, metrics, and logs.
func WrapProvider(inner qanat.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

var _ qanat.Provider = (*ObservedProvider)(nil)

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req qanat.ChatRequest) (qanat.ChatResponse, error) {
	spanAttrs := []trace.SpanStartOption{
		trace.WithAttributes(
			AttrLLMModel.String(o.model),
			AttrLLMProvider.String(o.inner.Name()),
		),
	}
	spanName := "llm.chat"
	method := "chat"
	if len(req.Tools) > 0 {
		toolNames := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			toolNames[i] = t.Name
		}
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(toolNames),
		))
		spanName = "llm.chat_with_tools"
		method = "chat_with_tools"
	}

	ctx, span := o.inst.Tracer.Start(ctx, spanName, spanAttrs...)
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, method, status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method, status string, durationMs float64, usage qanat.Usage) {
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
