package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mockEmbedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEmbedder_Embed_Single(t *testing.T) {
	srv := mockEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if _, ok := req.Input.(string); !ok {
			t.Fatalf("expected single string input, got %T", req.Input)
		}
		json.NewEncoder(w).Encode(embedResponse{
			Model:      req.Model,
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	})

	e, err := NewHTTPEmbedder(HTTPConfig{Endpoint: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	vec, err := e.Embed(context.Background(), "안녕하세요")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
	if e.Dimensions() != 3 {
		t.Errorf("expected auto-detected dims 3, got %d", e.Dimensions())
	}
}

func TestHTTPEmbedder_EmbedBatch(t *testing.T) {
	srv := mockEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		inputs, ok := req.Input.([]any)
		if !ok {
			t.Fatalf("expected batch input, got %T", req.Input)
		}
		embeddings := make([][]float32, len(inputs))
		for i := range inputs {
			embeddings[i] = []float32{float32(i)}
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: embeddings})
	})

	e, err := NewHTTPEmbedder(HTTPConfig{Endpoint: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
}

func TestHTTPEmbedder_ServiceError(t *testing.T) {
	srv := mockEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	e, err := NewHTTPEmbedder(HTTPConfig{Endpoint: srv.URL, Model: "test-model", MaxRetries: 0})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error from failing service")
	}
}

func TestHTTPEmbedder_MismatchedVectorCount(t *testing.T) {
	srv := mockEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2}}})
	})

	e, err := NewHTTPEmbedder(HTTPConfig{Endpoint: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error on vector/input count mismatch")
	}
}

func TestNewHTTPEmbedder_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPEmbedder(HTTPConfig{Model: "test-model"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
