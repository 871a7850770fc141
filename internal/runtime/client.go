// Package runtime is the client for the hosted agent runtime's invocation
// surface. The verifier issues its live probe through it; retry policy
// belongs to the caller, not this client.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agenticops/agentcd/internal/pipeline"
)

// Invoker issues one request against a deployed agent and returns the full
// text response.
type Invoker interface {
	Invoke(ctx context.Context, agentID, input string) (string, error)
}

// AliasUpdater repoints a runtime alias so 100% of traffic routes to the
// target version. One attempt, no built-in retry: callers decide.
type AliasUpdater interface {
	UpdateAlias(ctx context.Context, agentID, aliasID string, targetVersion int) error
}

type HTTPClientConfig struct {
	BaseURL    string
	Region     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type HTTPClient struct {
	baseURL string
	region  string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("runtime base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		region:  cfg.Region,
		client:  client,
		timeout: timeout,
	}, nil
}

type invokeRequest struct {
	InputText string `json:"inputText"`
}

type invokeResponse struct {
	OutputText string `json:"outputText"`
}

// Invoke performs a single invocation. Transport errors and 5xx responses
// are the transient class; 4xx responses are not retryable.
func (c *HTTPClient) Invoke(ctx context.Context, agentID, input string) (string, error) {
	body, err := json.Marshal(invokeRequest{InputText: input})
	if err != nil {
		return "", fmt.Errorf("runtime marshal request: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/runtimes/%s/invocations", c.baseURL, agentID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("runtime build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.region != "" {
		req.Header.Set("X-Region", c.region)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("runtime invoke %s: %v: %w", agentID, err, pipeline.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("runtime invoke %s: %s: %w", agentID, resp.Status, pipeline.ErrUpstreamUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("runtime invoke %s rejected: %s", agentID, resp.Status)
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("runtime decode response: %w", err)
	}
	return strings.TrimSpace(out.OutputText), nil
}

type updateAliasRequest struct {
	RoutingConfiguration []routingEntry `json:"routingConfiguration"`
}

type routingEntry struct {
	RuntimeVersion string `json:"runtimeVersion"`
	Percentage     int    `json:"percentage"`
}

// UpdateAlias sets the alias routing to 100% on targetVersion. A single
// attempt: alias mutation is the one external write and must fail loud.
func (c *HTTPClient) UpdateAlias(ctx context.Context, agentID, aliasID string, targetVersion int) error {
	body, err := json.Marshal(updateAliasRequest{
		RoutingConfiguration: []routingEntry{
			{RuntimeVersion: fmt.Sprintf("%d", targetVersion), Percentage: 100},
		},
	})
	if err != nil {
		return fmt.Errorf("runtime marshal alias update: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/runtimes/%s/aliases/%s", c.baseURL, agentID, aliasID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("runtime build alias update: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.region != "" {
		req.Header.Set("X-Region", c.region)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("runtime update alias %s/%s: %v: %w", agentID, aliasID, err, pipeline.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime update alias %s/%s rejected: %s", agentID, aliasID, resp.Status)
	}
	return nil
}
