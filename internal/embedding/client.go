// Package embedding requests query embeddings from the ingestion pipeline.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrInvalidResponse indicates the pipeline answered with an unusable payload.
var ErrInvalidResponse = errors.New("invalid embedding response")

// QueryEmbedding is a vector for one question.
type QueryEmbedding struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
}

// Embedder defines the interface for query embedding generation.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) (*QueryEmbedding, error)
}

// Ensure implementations satisfy interface.
var (
	_ Embedder = (*Client)(nil)
	_ Embedder = (*MockClient)(nil)
)

// Client calls the pipeline's query embedding endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	model      string
}

// Config holds embedding client configuration.
type Config struct {
	BaseURL string
	Token   string
	Model   string // optional model override sent to the pipeline
	Timeout time.Duration
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("PIPELINE_API_BASE_URL is not configured")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("PIPELINE_INTERNAL_TOKEN is not configured")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		model:      cfg.Model,
	}, nil
}

type embedQueryRequest struct {
	Text      string `json:"text"`
	ModelName string `json:"model_name,omitempty"`
}

type embedQueryResponse struct {
	Embedding  []float64 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions *int      `json:"dimensions"`
	Detail     string    `json:"detail"`
}

// EmbedQuery returns the embedding of one question.
func (c *Client) EmbedQuery(ctx context.Context, text string) (*QueryEmbedding, error) {
	body, err := json.Marshal(embedQueryRequest{Text: text, ModelName: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/embed-query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pipeline-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var payload embedQueryResponse
	decodeErr := json.Unmarshal(raw, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := http.StatusText(resp.StatusCode)
		if decodeErr == nil && payload.Detail != "" {
			detail = payload.Detail
		}
		return nil, fmt.Errorf("pipeline embedding request failed (%d): %s", resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, decodeErr)
	}

	return parseEmbedding(payload)
}

func parseEmbedding(payload embedQueryResponse) (*QueryEmbedding, error) {
	if len(payload.Embedding) == 0 {
		return nil, fmt.Errorf("%w: missing numeric vector", ErrInvalidResponse)
	}

	vec := make([]float32, len(payload.Embedding))
	for i, v := range payload.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite value at %d", ErrInvalidResponse, i)
		}
		vec[i] = float32(v)
	}

	model := strings.TrimSpace(payload.Model)
	if model == "" {
		model = "unknown"
	}

	dims := len(vec)
	if payload.Dimensions != nil && *payload.Dimensions > 0 {
		dims = *payload.Dimensions
	}

	return &QueryEmbedding{Embedding: vec, Model: model, Dimensions: dims}, nil
}

// MockClient provides a deterministic embedding client for testing and offline runs.
type MockClient struct {
	dimension int

	mu    sync.Mutex
	calls []string
}

// NewMockClient creates a mock client that derives embeddings from the text.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockClient{dimension: dimension}
}

// EmbedQuery generates a hash-based normalized vector.
func (c *MockClient) EmbedQuery(ctx context.Context, text string) (*QueryEmbedding, error) {
	c.mu.Lock()
	c.calls = append(c.calls, text)
	c.mu.Unlock()

	vec := make([]float32, c.dimension)
	for j, char := range strings.ToLower(text) {
		vec[j%c.dimension] += float32(char) / 1000.0
	}

	return &QueryEmbedding{
		Embedding:  normalize(vec),
		Model:      "mock-embedding-model",
		Dimensions: c.dimension,
	}, nil
}

// Calls returns the texts embedded so far.
func (c *MockClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}
