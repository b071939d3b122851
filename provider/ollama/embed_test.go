package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	qanat "github.com/nevindra/qanat"
)

func TestEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("expected path /api/embed, got %s", r.URL.Path)
		}

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "qwen3-embedding:0.6b" {
			t.Errorf("expected model qwen3-embedding:0.6b, got %s", req.Model)
		}
		if len(req.Input) != 2 || req.Input[0] != "第一段" || req.Input[1] != "第二段" {
			t.Errorf("unexpected input: %v", req.Input)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	e := NewEmbedder(WithEmbedBaseURL(srv.URL))

	vecs, err := e.Embed(context.Background(), []string{"第一段", "第二段"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][1] != 0.4 {
		t.Errorf("unexpected vectors: %v", vecs)
	}
}

func TestEmbedder_EmbedEmpty(t *testing.T) {
	e := NewEmbedder(WithEmbedBaseURL("http://unreachable.invalid"))

	vecs, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil vectors for empty input, got %v", vecs)
	}
}

func TestEmbedder_EmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1}},
		})
	}))
	defer srv.Close()

	e := NewEmbedder(WithEmbedBaseURL(srv.URL))

	_, err := e.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
	llmErr, ok := err.(*qanat.ErrLLM)
	if !ok {
		t.Fatalf("expected *qanat.ErrLLM, got %T", err)
	}
	if llmErr.Message != "got 1 embeddings for 2 inputs" {
		t.Errorf("unexpected message: %q", llmErr.Message)
	}
}

func TestEmbedder_EmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal error"}`))
	}))
	defer srv.Close()

	e := NewEmbedder(WithEmbedBaseURL(srv.URL))

	_, err := e.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	httpErr, ok := err.(*qanat.ErrHTTP)
	if !ok {
		t.Fatalf("expected *qanat.ErrHTTP, got %T", err)
	}
	if httpErr.Status != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", httpErr.Status)
	}
}

func TestEmbedder_Dimensions(t *testing.T) {
	e := NewEmbedder()
	if e.Dimensions() != DefaultDimensions {
		t.Errorf("expected default dimensions %d, got %d", DefaultDimensions, e.Dimensions())
	}

	e = NewEmbedder(WithEmbedModel("nomic-embed-text"), WithDimensions(768))
	if e.Dimensions() != 768 {
		t.Errorf("expected dimensions 768, got %d", e.Dimensions())
	}
	if e.model != "nomic-embed-text" {
		t.Errorf("expected model 'nomic-embed-text', got %q", e.model)
	}
}
