// Package advisor is the large-language-model capability stages use for
// generating artifacts and recommendations. Model routing is a closed Role
// enumeration resolved to concrete model identifiers at configuration time;
// the coordinator never routes on free-form strings.
//
// The transport is deliberately treated as unreliable: Ask returns transport
// errors to the caller, and the stage retry wrapper decides whether to try
// again.
package advisor

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

// Role selects which kind of advice is being requested. The set is closed;
// adding a role means adding a constant here and a mapping in the config.
type Role string

const (
	RoleAnalysis       Role = "analysis"
	RoleDatabase       Role = "database"
	RoleDeployment     Role = "deployment"
	RoleRecommendation Role = "recommendation"
)

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleAnalysis, RoleDatabase, RoleDeployment, RoleRecommendation:
		return true
	}
	return false
}

// ErrUnknownRole is returned when a request names a role outside the closed set.
var ErrUnknownRole = errors.New("advisor: unknown role")

// ModelMap resolves each role to a concrete backend model identifier.
type ModelMap map[Role]string

// NewModelMap builds a ModelMap from the configuration's role-name keys,
// filling unset roles with fallback.
func NewModelMap(byName map[string]string, fallback string) ModelMap {
	m := make(ModelMap, 4)
	for _, role := range []Role{RoleAnalysis, RoleDatabase, RoleDeployment, RoleRecommendation} {
		if id, ok := byName[string(role)]; ok && id != "" {
			m[role] = id
		} else {
			m[role] = fallback
		}
	}
	return m
}

// Request is one advisory round trip.
type Request struct {
	Role      Role
	Prompt    string
	System    string // optional system instructions
	MaxTokens int    // 0 means the client default
}

// Advisor answers prompts. Implementations may fail on transport problems;
// callers must wrap, not assume success.
type Advisor interface {
	Ask(ctx context.Context, req Request) (string, error)
}

// Compile-time interface check.
var _ Advisor = (*HTTPAdvisor)(nil)

// HTTPAdvisor talks to a messages-style LLM HTTP endpoint.
type HTTPAdvisor struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	models    ModelMap
	maxTokens int
}

// Option configures an HTTPAdvisor.
type Option func(*HTTPAdvisor)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *HTTPAdvisor) { a.http.Timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *HTTPAdvisor) { a.http = hc }
}

// WithMaxTokens sets the default completion budget per request.
func WithMaxTokens(n int) Option {
	return func(a *HTTPAdvisor) { a.maxTokens = n }
}

// New creates an HTTPAdvisor for the given endpoint and role→model map.
func New(baseURL, apiKey string, models ModelMap, opts ...Option) *HTTPAdvisor {
	a := &HTTPAdvisor{
		http:      &http.Client{Timeout: 60 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		models:    models,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Wire types for the messages endpoint.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Error   *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Ask resolves the request's role to a model, posts the prompt, and returns
// the concatenated text blocks of the response.
func (a *HTTPAdvisor) Ask(ctx context.Context, req Request) (string, error) {
	if !req.Role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, req.Role)
	}
	model, ok := a.models[req.Role]
	if !ok || model == "" {
		return "", fmt.Errorf("advisor: no model configured for role %q", req.Role)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	body, err := json.Marshal(messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("advisor: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("advisor: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if a.apiKey != "" {
		httpReq.Header.Set("x-api-key", a.apiKey)
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("advisor: %s: %w", req.Role, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("advisor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("advisor: %s: HTTP %d: %s", req.Role, resp.StatusCode, truncate(string(respBody), 300))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("advisor: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("advisor: %s: %s: %s", req.Role, parsed.Error.Type, parsed.Error.Message)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
