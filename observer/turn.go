package observer

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/nevindra/qanat"
)

// RecordTurn emits turn-level metrics and a structured log record for one
// completed agent or chat turn. path is "agent" or "chat". Degraded turns
// additionally bump the degraded counter so step-cap exhaustion is
// visible without log scraping.
func (i *Instruments) RecordTurn(ctx context.Context, path string, res qanat.TurnResult, durationMs float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	i.Turns.Add(ctx, 1, metric.WithAttributes(
		AttrTurnPath.String(path),
		AttrTurnStatus.String(status),
		AttrLLMModel.String(res.Decision.ModelID),
		AttrRouteTag.String(string(res.Decision.Tag)),
		AttrBusinessType.String(string(res.Decision.BusinessType)),
	))
	i.TurnDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrTurnPath.String(path),
		AttrLLMModel.String(res.Decision.ModelID),
	))
	if res.Degraded {
		i.TurnsDegraded.Add(ctx, 1, metric.WithAttributes(
			AttrTurnPath.String(path),
			AttrLLMModel.String(res.Decision.ModelID),
		))
	}

	cost := i.Cost.Calculate(res.Decision.ModelID, res.Usage.InputTokens, res.Usage.OutputTokens)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	if err != nil {
		rec.SetSeverity(otellog.SeverityError)
	}
	rec.SetBody(otellog.StringValue("turn completed"))
	attrs := []otellog.KeyValue{
		otellog.String("turn.path", path),
		otellog.String("turn.status", status),
		otellog.String("conversation.id", res.ConversationID),
		otellog.String("llm.model", res.Decision.ModelID),
		otellog.String("route.tag", string(res.Decision.Tag)),
		otellog.String("route.business_type", string(res.Decision.BusinessType)),
		otellog.Int("llm.tokens.input", res.Usage.InputTokens),
		otellog.Int("llm.tokens.output", res.Usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Int("tool.calls", len(res.Records)),
		otellog.Bool("turn.degraded", res.Degraded),
		otellog.Float64("turn.duration_ms", durationMs),
	}
	if err != nil {
		attrs = append(attrs, otellog.String("error", err.Error()))
	}
	rec.AddAttributes(attrs...)
	i.Logger.Emit(ctx, rec)
}
