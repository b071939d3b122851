package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	qanat "github.com/nevindra/qanat"
)

const (
	// DefaultEmbedModel is the embedding model used when none is configured.
	DefaultEmbedModel = "qwen3-embedding:0.6b"
	// DefaultDimensions is the vector size of the default embedding model.
	DefaultDimensions = 1024
	// DefaultEmbedTimeout bounds one embedding call.
	DefaultEmbedTimeout = 60 * time.Second
)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embedder is a qanat.EmbeddingProvider over the Ollama embed API. One
// call embeds a batch of texts in request order.
type Embedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
	name    string
}

// NewEmbedder creates an Ollama embedder with the stock defaults
// (localhost, qwen3-embedding:0.6b, 1024 dimensions).
func NewEmbedder(opts ...EmbedOption) *Embedder {
	e := &Embedder{
		baseURL: DefaultBaseURL,
		model:   DefaultEmbedModel,
		dims:    DefaultDimensions,
		client:  &http.Client{Timeout: DefaultEmbedTimeout},
		name:    "ollama",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the provider name (default "ollama").
func (e *Embedder) Name() string { return e.name }

// Dimensions returns the configured embedding vector size.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, &qanat.ErrLLM{Provider: e.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, &qanat.ErrLLM{Provider: e.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &qanat.ErrLLM{Provider: e.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &qanat.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(data),
			RetryAfter: qanat.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var wire embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &qanat.ErrLLM{Provider: e.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if wire.Error != "" {
		return nil, &qanat.ErrLLM{Provider: e.name, Message: wire.Error}
	}
	if len(wire.Embeddings) != len(texts) {
		return nil, &qanat.ErrLLM{Provider: e.name, Message: fmt.Sprintf("got %d embeddings for %d inputs", len(wire.Embeddings), len(texts))}
	}
	return wire.Embeddings, nil
}

// Compile-time interface check.
var _ qanat.EmbeddingProvider = (*Embedder)(nil)
