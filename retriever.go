package qanat

import (
	"context"
	"fmt"
	"log/slog"
)

// Retriever turns a query string into ranked supporting segments.
// Implementations own the embed-then-search pipeline; callers only see
// scored segments that already cleared the configured floor.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Segment, error)
}

// RetrieverOption configures a VectorRetriever.
type RetrieverOption func(*VectorRetriever)

// WithMinScore sets the similarity floor. Matches scoring below it are
// dropped before results leave the retriever. Default 0.5.
func WithMinScore(score float32) RetrieverOption {
	return func(r *VectorRetriever) { r.minScore = score }
}

// WithRetrieverLogger sets a structured logger. Default is no output.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *VectorRetriever) { r.logger = l }
}

// VectorRetriever embeds the query and searches the vector index.
type VectorRetriever struct {
	embedding EmbeddingProvider
	index     VectorIndex
	minScore  float32
	logger    *slog.Logger
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a retriever over the given embedding
// provider and vector index.
func NewVectorRetriever(embedding EmbeddingProvider, index VectorIndex, opts ...RetrieverOption) *VectorRetriever {
	r := &VectorRetriever{
		embedding: embedding,
		index:     index,
		minScore:  0.5,
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve embeds query and returns up to topK segments with
// score >= minScore, best first.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Segment, error) {
	vecs, err := r.embedding.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty result")
	}

	segments, err := r.index.Search(ctx, vecs[0], topK, r.minScore)
	if err != nil {
		return nil, &ErrVector{Op: "search", Err: err}
	}
	r.logger.Debug("retrieval done", "query_len", len(query), "matches", len(segments))
	return segments, nil
}
