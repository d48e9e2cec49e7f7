package advisor

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

func testModels() ModelMap {
	return NewModelMap(map[string]string{
		"analysis":   "model-a",
		"deployment": "model-d",
	}, "model-default")
}

func TestNewModelMapFillsFallback(t *testing.T) {
	m := testModels()
	assert.Equal(t, "model-a", m[RoleAnalysis])
	assert.Equal(t, "model-d", m[RoleDeployment])
	assert.Equal(t, "model-default", m[RoleDatabase])
	assert.Equal(t, "model-default", m[RoleRecommendation])
}

func TestAskRoundTrip(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(messagesResponse{Content: []contentBlock{
			{Type: "text", Text: "use a multi-stage "},
			{Type: "text", Text: "Dockerfile"},
		}})
	}))
	defer srv.Close()

	a := New(srv.URL, "secret", testModels(), WithTimeout(5*time.Second))
	text, err := a.Ask(context.Background(), Request{
		Role:   RoleDeployment,
		Prompt: "How should I containerize a Spring Boot app?",
		System: "You are a migration assistant.",
	})
	require.NoError(t, err)
	assert.Equal(t, "use a multi-stage Dockerfile", text)

	assert.Equal(t, "model-d", got.Model)
	assert.Equal(t, "You are a migration assistant.", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestAskRejectsUnknownRole(t *testing.T) {
	a := New("http://unused", "", testModels())
	_, err := a.Ask(context.Background(), Request{Role: Role("vibes"), Prompt: "hi"})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestAskSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New(srv.URL, "", testModels())
	_, err := a.Ask(context.Background(), Request{Role: RoleAnalysis, Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestAskSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(messagesResponse{Error: &apiError{
			Type:    "invalid_request_error",
			Message: "max_tokens too large",
		}})
	}))
	defer srv.Close()

	a := New(srv.URL, "", testModels())
	_, err := a.Ask(context.Background(), Request{Role: RoleAnalysis, Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens too large")
}

func TestAskTransportFailure(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := New(url, "", testModels(), WithTimeout(time.Second))
	_, err := a.Ask(context.Background(), Request{Role: RoleDatabase, Prompt: "hi"})
	require.Error(t, err)
}
