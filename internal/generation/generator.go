package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Generator produces a marketing plan from a questionnaire. The call is
// treated as an opaque paid operation: it either returns the plan text
// or an error, and the orchestrator settles the charge accordingly.
type Generator interface {
	Generate(ctx context.Context, req PlanRequest) (string, error)
}

// HTTPGenerator posts the questionnaire to a completion endpoint.
type HTTPGenerator struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPGenerator(url, apiKey string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type generatorResponse struct {
	Plan  string `json:"plan"`
	Error string `json:"error"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, req PlanRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generator request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read generator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator returned status %d", resp.StatusCode)
	}

	var out generatorResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode generator response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generator error: %s", out.Error)
	}
	if out.Plan == "" {
		return "", fmt.Errorf("generator returned an empty plan")
	}

	return out.Plan, nil
}
