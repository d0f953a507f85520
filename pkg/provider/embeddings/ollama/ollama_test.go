package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// embedServer answers /api/embed with one fixed-length vector per input.
func embedServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = make([]float32, dims)
			out[i][0] = float32(i)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
	if _, err := New("://bad", "nomic-embed-text"); err == nil {
		t.Fatal("expected error for a malformed base url")
	}
	// Known models need no server.
	p, err := New("", "nomic-embed-text:v1.5")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != "nomic-embed-text:v1.5" {
		t.Errorf("ModelID = %q", p.ModelID())
	}
	if p.Dimensions() != 768 {
		t.Errorf("Dimensions = %d, want 768", p.Dimensions())
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := embedServer(t, 4, &calls)
	p, _ := New(srv.URL+"/", "all-minilm")

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("vecs = %v", vecs)
	}

	vec, err := p.Embed(context.Background(), "single")
	if err != nil || len(vec) != 4 {
		t.Errorf("Embed = %v, %v", vec, err)
	}
}

func TestDimensions_Probe(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := embedServer(t, 5, &calls)
	p, _ := New(srv.URL, "custom-model")

	if got := p.Dimensions(); got != 5 {
		t.Errorf("Dimensions = %d, want 5", got)
	}
	_ = p.Dimensions()
	if calls.Load() != 1 {
		t.Errorf("probe issued %d times, want 1", calls.Load())
	}

	p2, _ := New(srv.URL, "custom-model", WithDimensions(9))
	if p2.Dimensions() != 9 {
		t.Error("WithDimensions not honoured")
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p, _ := New(srv.URL, "nomic-embed-text")
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 404")
	}
}
