package orchestrator

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

// AllowedTools is the closed set of suggestion tools the delegation call may
// invoke. Everything here is read-only; the suggestion service is never
// granted mutating capability.
var AllowedTools = []string{
	"propose_alternatives",
	"explain_conflict",
	"summarize_schedule",
}

// SuggestionConfig describes how to reach the suggestion service.
type SuggestionConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Alternative is one AI-proposed replacement window.
type Alternative struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Reason    string    `json:"reason,omitempty"`
}

// SuggestionRequest carries the conflict context to the suggestion service.
type SuggestionRequest struct {
	Workflow     string         `json:"workflow"`
	ConflictCode string         `json:"conflict_code,omitempty"`
	HoldKey      string         `json:"hold_key,omitempty"`
	RetryAfter   *time.Time     `json:"retry_after,omitempty"`
	Snapshot     map[string]any `json:"snapshot,omitempty"`
	AllowedTools []string       `json:"allowed_tools"`
}

// SuggestionResponse is the suggestion service's reply.
type SuggestionResponse struct {
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Guidance     string        `json:"guidance,omitempty"`
}

// SuggestionClient fetches scheduling alternatives for a failed workflow.
type SuggestionClient interface {
	Suggest(ctx context.Context, req SuggestionRequest) (*SuggestionResponse, error)
}

// HTTPSuggestionClient talks JSON-over-HTTP to the suggestion service.
type HTTPSuggestionClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPSuggestionClient validates the configuration and returns a
// ready-to-use client.
func NewHTTPSuggestionClient(cfg SuggestionConfig) (*HTTPSuggestionClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("orchestrator: suggestion base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &HTTPSuggestionClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Suggest posts the conflict context and decodes the proposed alternatives.
func (c *HTTPSuggestionClient) Suggest(ctx context.Context, req SuggestionRequest) (*SuggestionResponse, error) {
	if req.Workflow == "" {
		return nil, errors.New("orchestrator: workflow required")
	}
	req.AllowedTools = AllowedTools

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode suggestion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scheduling/suggest", bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build suggestion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: suggestion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read suggestion response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("orchestrator: suggestion service %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out SuggestionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("orchestrator: decode suggestion response: %w", err)
	}
	return &out, nil
}
