package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for LLM observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrTurnPath     = attribute.Key("turn.path")
	AttrTurnStatus   = attribute.Key("turn.status")
	AttrRouteTag     = attribute.Key("route.tag")
	AttrBusinessType = attribute.Key("route.business_type")
)
