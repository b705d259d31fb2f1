// Package pipeline calls the answer-generation collaborator used on the semantic path.
package pipeline

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
)

// ErrInvalidResponse indicates the pipeline answered with an unusable payload.
var ErrInvalidResponse = errors.New("invalid pipeline response")

// ScopeTarget is one jurisdiction of a retrieval scope.
type ScopeTarget struct {
	ScopeType string `json:"scope_type"`
	ScopeID   string `json:"scope_id"`
	ScopeName string `json:"scope_name"`
}

// RetrievalScope is the scope payload forwarded to the pipeline.
type RetrievalScope struct {
	Mode    string        `json:"mode"`
	Targets []ScopeTarget `json:"targets"`
}

// ContextItem is a retrieved line item passed to the pipeline as grounding.
type ContextItem struct {
	SourceID   string   `json:"source_id"`
	LineItemID string   `json:"line_item_id"`
	AipID      string   `json:"aip_id"`
	FiscalYear *int     `json:"fiscal_year,omitempty"`
	Title      string   `json:"title"`
	RefCode    *string  `json:"aip_ref_code,omitempty"`
	PageNo     *int     `json:"page_no,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
}

// AnswerRequest is the body of /v1/chat/answer.
type AnswerRequest struct {
	Question       string         `json:"question"`
	RetrievalScope RetrievalScope `json:"retrieval_scope"`
	TopK           int            `json:"top_k"`
	MinSimilarity  float64        `json:"min_similarity"`
	Context        []ContextItem  `json:"context,omitempty"`
}

// Citation is a pipeline-supplied source reference.
type Citation struct {
	SourceID     string                 `json:"source_id"`
	ChunkID      *string                `json:"chunk_id,omitempty"`
	AipID        *string                `json:"aip_id,omitempty"`
	FiscalYear   *int                   `json:"fiscal_year,omitempty"`
	ScopeType    *string                `json:"scope_type,omitempty"`
	ScopeID      *string                `json:"scope_id,omitempty"`
	ScopeName    *string                `json:"scope_name,omitempty"`
	Similarity   *float64               `json:"similarity,omitempty"`
	Snippet      string                 `json:"snippet"`
	Insufficient bool                   `json:"insufficient"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RetrievalMeta carries pipeline diagnostics.
type RetrievalMeta struct {
	Reason         string   `json:"reason"`
	TopK           *int     `json:"top_k,omitempty"`
	MinSimilarity  *float64 `json:"min_similarity,omitempty"`
	ContextCount   *int     `json:"context_count,omitempty"`
	VerifierPassed *bool    `json:"verifier_passed,omitempty"`
}

// Answer is the pipeline's response.
type Answer struct {
	Answer        string        `json:"answer"`
	Refused       bool          `json:"refused"`
	Citations     []Citation    `json:"citations"`
	RetrievalMeta RetrievalMeta `json:"retrieval_meta"`
}

// Answerer generates grounded answers for semantic questions.
type Answerer interface {
	Answer(ctx context.Context, req AnswerRequest) (*Answer, error)
}

var _ Answerer = (*Client)(nil)

// Config holds pipeline client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client calls the pipeline over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a new pipeline client.
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
	}, nil
}

// Answer posts the question and retrieved context and returns the generated answer.
func (c *Client) Answer(ctx context.Context, in AnswerRequest) (*Answer, error) {
	if in.TopK <= 0 {
		in.TopK = 8
	}
	if in.MinSimilarity <= 0 {
		in.MinSimilarity = 0.3
	}
	if in.RetrievalScope.Targets == nil {
		in.RetrievalScope.Targets = []ScopeTarget{}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/answer", bytes.NewReader(body))
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

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := http.StatusText(resp.StatusCode)
		var errBody struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Detail != "" {
			detail = errBody.Detail
		}
		return nil, fmt.Errorf("pipeline chat request failed (%d): %s", resp.StatusCode, detail)
	}

	var out Answer
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return nil, fmt.Errorf("%w: missing answer", ErrInvalidResponse)
	}
	if out.RetrievalMeta.Reason == "" {
		out.RetrievalMeta.Reason = "unknown"
	}

	return &out, nil
}
