package qanat

import (
	"context"
	"errors"
	"testing"
)

func TestVectorRetrieverPipeline(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	idx := &mockIndex{segs: []Segment{
		{Text: "匹配段落", Metadata: SegmentMeta{Filename: "doc.txt"}, Score: 0.8},
	}}
	r := NewVectorRetriever(emb, idx)

	segs, err := r.Retrieve(context.Background(), "问题", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].Text != "匹配段落" {
		t.Errorf("segments = %+v", segs)
	}
	if idx.gotK != 5 {
		t.Errorf("search k = %d, want 5", idx.gotK)
	}
	if idx.gotMin != 0.5 {
		t.Errorf("search minScore = %v, want default 0.5", idx.gotMin)
	}
}

func TestVectorRetrieverMinScoreOption(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{}
	r := NewVectorRetriever(emb, idx, WithMinScore(0.75))

	if _, err := r.Retrieve(context.Background(), "q", 3); err != nil {
		t.Fatal(err)
	}
	if idx.gotMin != 0.75 {
		t.Errorf("search minScore = %v, want 0.75", idx.gotMin)
	}
}

func TestVectorRetrieverEmbedError(t *testing.T) {
	emb := &mockEmbedder{err: errors.New("embed server down")}
	r := NewVectorRetriever(emb, &mockIndex{})

	_, err := r.Retrieve(context.Background(), "q", 3)
	if err == nil {
		t.Fatal("expected embed error")
	}
}

func TestVectorRetrieverSearchError(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{err: errors.New("qdrant unavailable")}
	r := NewVectorRetriever(emb, idx)

	_, err := r.Retrieve(context.Background(), "q", 3)
	if err == nil {
		t.Fatal("expected search error")
	}
	if KindOf(err) != KindVectorBackend {
		t.Errorf("KindOf(err) = %q, want %q", KindOf(err), KindVectorBackend)
	}
}
