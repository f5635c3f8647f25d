package hf

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arborworks/arbor/internal/config"
)

func testConfig(featureURL, toxicityURL string) config.HFConfig {
	return config.HFConfig{
		FeatureExtractionURL: featureURL,
		ToxicityURL:          toxicityURL,
		TimeoutSec:           5,
		CacheTTLSec:          600,
	}
}

func TestClient_Embedding(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, http.MethodPost, r.Method)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "hello world", payload["text"])

		_ = json.NewEncoder(w).Encode([][]float64{{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL, srv.URL), config.DebugConfig{})

	vector, err := client.Embedding(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, vector)

	// Second call with the same text hits the cache.
	vector, err = client.Embedding(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, vector)
	require.Equal(t, int32(1), calls.Load(), "cached call must not reach the server")
}

func TestClient_Embedding_FlatVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]float64{1, 2})
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL, srv.URL), config.DebugConfig{})
	vector, err := client.Embedding(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, vector)
}

func TestClient_Toxicity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([][]ToxicityResult{{
			{Label: "non-toxic", Score: 0.93},
			{Label: "toxic", Score: 0.07},
		}})
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL, srv.URL), config.DebugConfig{})
	result, err := client.Toxicity(context.Background(), "nice message")
	require.NoError(t, err)
	require.Equal(t, "non-toxic", result.Label)
	require.InDelta(t, 0.93, result.Score, 1e-9)
}

func TestClient_APIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]float64{0})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, srv.URL)
	cfg.APIKey = "secret-token"
	client := New(cfg, config.DebugConfig{})

	_, err := client.Embedding(context.Background(), "x")
	require.NoError(t, err)
}

func TestClient_RetriesWhileModelLoads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]float64{0.5})
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL, srv.URL), config.DebugConfig{})
	vector, err := client.Embedding(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, []float64{0.5}, vector)
	require.Equal(t, int32(2), calls.Load())
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL, srv.URL), config.DebugConfig{})
	_, err := client.Embedding(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 400")
}

func TestClient_SkipFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("skipped computations must not reach the server")
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL, srv.URL), config.DebugConfig{
		SkipEmbeddingComputation: true,
		SkipToxicityCalculation:  true,
	})

	_, err := client.Embedding(context.Background(), "x")
	require.ErrorIs(t, err, ErrSkipped)
	_, err = client.Toxicity(context.Background(), "x")
	require.ErrorIs(t, err, ErrSkipped)
}

func TestModelFromURL(t *testing.T) {
	require.Equal(t,
		"sentence-transformers/all-MiniLM-L6-v2",
		modelFromURL("https://api-inference.huggingface.co/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2"),
	)
	require.Equal(t, "unitary/toxic-bert", modelFromURL("https://host/models/unitary/toxic-bert/"))
}
