package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestNew_WiresBatcherAndCache(t *testing.T) {
	var calls int
	srv := mockEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch v := req.Input.(type) {
		case string:
			json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
		case []any:
			out := make([][]float32, len(v))
			for i := range v {
				out[i] = []float32{float32(i)}
			}
			json.NewEncoder(w).Encode(embedResponse{Embeddings: out})
		}
	})

	e, err := New(Config{
		Endpoint:  srv.URL,
		Model:     "test-model",
		BatchSize: 32,
		CacheSize: 16,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	vec, err := e.Embed(context.Background(), "query")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) == 0 {
		t.Fatal("expected non-empty vector")
	}

	callsAfterFirst := calls
	if _, err := e.Embed(context.Background(), "query"); err != nil {
		t.Fatalf("Embed (cached): %v", err)
	}
	if calls != callsAfterFirst {
		t.Errorf("expected cache hit to avoid a second HTTP call, calls went from %d to %d", callsAfterFirst, calls)
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(Config{Model: "test-model"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
