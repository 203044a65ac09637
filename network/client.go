package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const externalHTTPTimeout = 30 * time.Second

// HTTPClient talks to the adjudicating network's HTTP API. Timeouts and
// 5xx responses classify as transient; 4xx responses as rejections.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: externalHTTPTimeout},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, payload Payload, idempotencyKey string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("network: marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/submissions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("network: build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: network returned %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("network returned %d", resp.StatusCode)
	}

	var out struct {
		CaseRef string `json:"case_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode ack: %v", ErrTransient, err)
	}
	if out.CaseRef == "" {
		return "", fmt.Errorf("network acknowledged without case ref")
	}
	return out.CaseRef, nil
}

func (c *HTTPClient) PollStatus(ctx context.Context, caseRef string) (Resolution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/cases/"+caseRef, nil)
	if err != nil {
		return Resolution{}, fmt.Errorf("network: build poll request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Resolution{}, fmt.Errorf("network returned %d for case %s", resp.StatusCode, caseRef)
	}

	var res Resolution
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Resolution{}, fmt.Errorf("network: decode status: %w", err)
	}
	return res, nil
}
