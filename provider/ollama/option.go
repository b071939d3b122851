package ollama

import (
	"net/http"
	"strings"
	"time"
)

// Option configures the chat Provider.
type Option func(*Provider)

// WithBaseURL overrides the Ollama server address. A trailing slash is
// trimmed so path joins stay predictable.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithModel overrides the chat model id.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithTimeout overrides the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client, e.g. to add a transport with
// custom TLS or tracing.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTemperature sets the sampling temperature for every call.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithNumPredict caps the number of generated tokens per call.
func WithNumPredict(n int) Option {
	return func(p *Provider) { p.numPredict = n }
}

// WithName overrides the provider name reported in errors and routing
// decisions.
func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

// EmbedOption configures the Embedder.
type EmbedOption func(*Embedder)

// WithEmbedBaseURL overrides the Ollama server address for embeddings.
func WithEmbedBaseURL(u string) EmbedOption {
	return func(e *Embedder) {
		if u != "" {
			e.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithEmbedModel overrides the embedding model id.
func WithEmbedModel(model string) EmbedOption {
	return func(e *Embedder) {
		if model != "" {
			e.model = model
		}
	}
}

// WithDimensions declares the vector size of the configured embedding
// model. It must match the vector collection's size.
func WithDimensions(n int) EmbedOption {
	return func(e *Embedder) {
		if n > 0 {
			e.dims = n
		}
	}
}

// WithEmbedTimeout overrides the per-call HTTP timeout for embeddings.
func WithEmbedTimeout(d time.Duration) EmbedOption {
	return func(e *Embedder) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

// WithEmbedHTTPClient replaces the HTTP client used for embeddings.
func WithEmbedHTTPClient(c *http.Client) EmbedOption {
	return func(e *Embedder) {
		if c != nil {
			e.client = c
		}
	}
}
