package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSuggestionClientSuggest(t *testing.T) {
	var captured SuggestionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/scheduling/suggest", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SuggestionResponse{
			Alternatives: []Alternative{{
				StartTime: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2026, 2, 2, 13, 0, 0, 0, time.UTC),
				Reason:    "next open window",
			}},
			Guidance: "retry after the competing hold expires",
		})
	}))
	defer server.Close()

	client, err := NewHTTPSuggestionClient(SuggestionConfig{BaseURL: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	resp, err := client.Suggest(context.Background(), SuggestionRequest{
		Workflow:     "hold",
		ConflictCode: "THERAPIST_HOLD_CONFLICT",
		HoldKey:      "hold-1",
	})
	require.NoError(t, err)
	require.Len(t, resp.Alternatives, 1)
	assert.Equal(t, "next open window", resp.Alternatives[0].Reason)

	// The allow-list is set server-side by the client, not by callers.
	assert.Equal(t, AllowedTools, captured.AllowedTools)
	assert.Equal(t, "hold", captured.Workflow)
}

func TestHTTPSuggestionClientUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewHTTPSuggestionClient(SuggestionConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Suggest(context.Background(), SuggestionRequest{Workflow: "hold"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestHTTPSuggestionClientValidation(t *testing.T) {
	_, err := NewHTTPSuggestionClient(SuggestionConfig{})
	require.Error(t, err)

	client, err := NewHTTPSuggestionClient(SuggestionConfig{BaseURL: "http://localhost:9"})
	require.NoError(t, err)
	_, err = client.Suggest(context.Background(), SuggestionRequest{})
	require.Error(t, err)
}
