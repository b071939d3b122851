package qanat

import "context"

// Provider abstracts a chat model backend. Implementations are
// single-shot: the agent loop owns the iteration, a provider only turns
// one request into one response. When req.Tools is non-empty the response
// may carry ToolCalls instead of final content.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "ollama", "dashscope").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// ProviderTag marks a registered model as local or remote. The tag is
// attached at registration and carried in every RoutingDecision, so
// nothing downstream ever inspects the concrete provider type.
type ProviderTag string

const (
	TagLocal  ProviderTag = "local"
	TagRemote ProviderTag = "remote"
)
