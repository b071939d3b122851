package qanat

import "context"

// Segment is one retrieval result from the vector index: the stored text,
// its provenance metadata, and the similarity score in [0,1] (higher is
// more similar).
type Segment struct {
	Text     string      `json:"text"`
	Metadata SegmentMeta `json:"metadata"`
	Score    float32     `json:"score"`
}

// SegmentMeta is the provenance attached to an indexed segment.
type SegmentMeta struct {
	Filename   string `json:"filename,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
}

// VectorIndex is the minimal contract with the vector store. The wire
// protocol (Qdrant gRPC here) is the implementation's concern. Search
// never returns matches below minScore.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int, minScore float32) ([]Segment, error)
}

// VectorWriter is the optional write side, used for bootstrap and test
// seeding; the request path never writes to the index.
type VectorWriter interface {
	Upsert(ctx context.Context, segments []Segment, vectors [][]float32) error
}
