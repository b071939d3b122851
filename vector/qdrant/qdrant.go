// Package qdrant implements the vector index on a Qdrant server over its
// native gRPC client. Segment text and provenance travel in the point
// payload; similarity is cosine.
package qdrant

import (
	"context"
	"fmt"

	qd "github.com/qdrant/go-client/qdrant"

	qanat "github.com/nevindra/qanat"
)

// Payload keys for indexed segments.
const (
	payloadText       = "text"
	payloadFilename   = "filename"
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
)

// Config holds the Qdrant connection and collection settings.
type Config struct {
	Host       string // default "localhost"
	Port       int    // gRPC port, default 6334
	APIKey     string // optional
	UseTLS     bool
	Collection string
	VectorSize int // embedding dimension, used by EnsureCollection
}

// Index is a qanat.VectorIndex backed by one Qdrant collection.
type Index struct {
	client     *qd.Client
	collection string
	vectorSize int
}

// New connects to the Qdrant server. The connection is lazy on the gRPC
// side; a bad address surfaces on the first call.
func New(cfg Config) (*Index, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}

	client, err := qd.NewClient(&qd.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Index{
		client:     client,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
	}, nil
}

// EnsureCollection creates the configured collection when it does not
// exist yet. Call once at startup before serving.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", ix.collection, err)
	}
	if exists {
		return nil
	}

	err = ix.client.CreateCollection(ctx, &qd.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
			Size:     uint64(ix.vectorSize),
			Distance: qd.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", ix.collection, err)
	}
	return nil
}

// Search returns up to k segments with score >= minScore, best first.
func (ix *Index) Search(ctx context.Context, vector []float32, k int, minScore float32) ([]qanat.Segment, error) {
	req := &qd.SearchPoints{
		CollectionName: ix.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    qd.NewWithPayload(true),
	}
	if minScore > 0 {
		req.ScoreThreshold = &minScore
	}

	resp, err := ix.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	segments := make([]qanat.Segment, 0, len(resp.Result))
	for _, point := range resp.Result {
		segments = append(segments, qanat.Segment{
			Text: payloadString(point.Payload, payloadText),
			Metadata: qanat.SegmentMeta{
				Filename:   payloadString(point.Payload, payloadFilename),
				DocumentID: payloadString(point.Payload, payloadDocumentID),
				ChunkIndex: payloadInt(point.Payload, payloadChunkIndex),
			},
			Score: point.Score,
		})
	}
	return segments, nil
}

// Upsert writes segments with their vectors into the collection. Each
// point gets a fresh UUID; re-indexing the same document produces new
// points rather than updates.
func (ix *Index) Upsert(ctx context.Context, segments []qanat.Segment, vectors [][]float32) error {
	if len(segments) != len(vectors) {
		return fmt.Errorf("upsert: %d segments but %d vectors", len(segments), len(vectors))
	}
	if len(segments) == 0 {
		return nil
	}

	points := make([]*qd.PointStruct, 0, len(segments))
	for i, seg := range segments {
		payload := map[string]*qd.Value{
			payloadText:       qd.NewValueString(seg.Text),
			payloadFilename:   qd.NewValueString(seg.Metadata.Filename),
			payloadDocumentID: qd.NewValueString(seg.Metadata.DocumentID),
			payloadChunkIndex: qd.NewValueInt(int64(seg.Metadata.ChunkIndex)),
		}
		points = append(points, &qd.PointStruct{
			Id:      qd.NewID(qanat.NewID()),
			Vectors: qd.NewVectors(vectors[i]...),
			Payload: payload,
		})
	}

	_, err := ix.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: ix.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Close releases the gRPC connection.
func (ix *Index) Close() error {
	return ix.client.Close()
}

func payloadString(payload map[string]*qd.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadInt(payload map[string]*qd.Value, key string) int {
	if v, ok := payload[key]; ok {
		return int(v.GetIntegerValue())
	}
	return 0
}

// Compile-time interface checks.
var (
	_ qanat.VectorIndex  = (*Index)(nil)
	_ qanat.VectorWriter = (*Index)(nil)
)
