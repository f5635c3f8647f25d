// Package hf calls HuggingFace inference endpoints for message enrichment:
// sentence embeddings and toxicity classification. Calls are best-effort and
// results are memoised per input text.
package hf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/arborworks/arbor/internal/config"
)

// ErrSkipped is returned when the corresponding debug flag disables the call.
var ErrSkipped = errors.New("hf: computation skipped by configuration")

// ToxicityResult is the top classification for one input text.
type ToxicityResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Client posts texts to the configured inference endpoints. The zero value is
// not usable; construct with New.
type Client struct {
	featureExtractionURL string
	toxicityURL          string
	apiKey               string
	skipEmbedding        bool
	skipToxicity         bool
	httpClient           *http.Client
	cache                *gocache.Cache
}

// New builds a client from the hf and debug config sections.
func New(cfg config.HFConfig, debug config.DebugConfig) *Client {
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	return &Client{
		featureExtractionURL: cfg.FeatureExtractionURL,
		toxicityURL:          cfg.ToxicityURL,
		apiKey:               cfg.APIKey,
		skipEmbedding:        debug.SkipEmbeddingComputation,
		skipToxicity:         debug.SkipToxicityCalculation,
		httpClient:           &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		cache:                gocache.New(ttl, 2*ttl),
	}
}

// EmbeddingModel returns the model name encoded in the endpoint URL.
func (c *Client) EmbeddingModel() string {
	return modelFromURL(c.featureExtractionURL)
}

// ToxicityModel returns the model name encoded in the endpoint URL.
func (c *Client) ToxicityModel() string {
	return modelFromURL(c.toxicityURL)
}

// Embedding returns the feature-extraction vector for the text. Repeated
// calls with the same text within the cache TTL hit the cache.
func (c *Client) Embedding(ctx context.Context, text string) ([]float64, error) {
	if c.skipEmbedding {
		return nil, ErrSkipped
	}
	key := "emb:" + text
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]float64), nil
	}

	body, err := c.post(ctx, c.featureExtractionURL, text)
	if err != nil {
		return nil, err
	}
	vector, err := decodeEmbedding(body)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, vector)
	return vector, nil
}

// Toxicity returns the highest-scoring classification for the text.
func (c *Client) Toxicity(ctx context.Context, text string) (*ToxicityResult, error) {
	if c.skipToxicity {
		return nil, ErrSkipped
	}
	key := "tox:" + text
	if cached, ok := c.cache.Get(key); ok {
		result := cached.(ToxicityResult)
		return &result, nil
	}

	body, err := c.post(ctx, c.toxicityURL, text)
	if err != nil {
		return nil, err
	}
	result, err := decodeToxicity(body)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, *result)
	return result, nil
}

// post sends {"text": ...} and returns the response body. A 503 means the
// model is still loading on the inference side; retry a few times before
// giving up.
func (c *Client) post(ctx context.Context, url, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("hf: encoding request: %w", err)
	}

	const maxAttempts = 3
	var lastStatus int
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("hf: creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("hf: request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("hf: reading response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusServiceUnavailable:
			lastStatus = resp.StatusCode
			continue
		default:
			return nil, fmt.Errorf("hf: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}
	return nil, fmt.Errorf("hf: model not ready after %d attempts (HTTP %d)", maxAttempts, lastStatus)
}

// decodeEmbedding accepts both a flat vector and a single-row matrix, which
// is what feature-extraction endpoints return for one input.
func decodeEmbedding(body []byte) ([]float64, error) {
	var flat []float64
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var nested [][]float64
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, fmt.Errorf("hf: decoding embedding: %w", err)
	}
	if len(nested) == 0 {
		return nil, errors.New("hf: empty embedding response")
	}
	return nested[0], nil
}

// decodeToxicity accepts [[{label, score}]] and [{label, score}] shapes and
// returns the highest-scoring record.
func decodeToxicity(body []byte) (*ToxicityResult, error) {
	var nested [][]ToxicityResult
	records := func() []ToxicityResult {
		if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 {
			return nested[0]
		}
		var flat []ToxicityResult
		if err := json.Unmarshal(body, &flat); err == nil {
			return flat
		}
		return nil
	}()
	if len(records) == 0 {
		return nil, errors.New("hf: empty toxicity response")
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Score > best.Score {
			best = r
		}
	}
	return &best, nil
}

// modelFromURL extracts the trailing owner/model segments of an inference URL.
func modelFromURL(url string) string {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return url
}
