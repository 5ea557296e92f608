// Package django provides the HTTP client for the domain backend. It implements
// the billing store and the notification sender on top of the backend's
// internal API.
package django

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fitstack/subscription-payments/internal/core/domain"
)

// Client implements ports.BillingStore and ports.Notifier.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new backend client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// do sends a JSON request and decodes the response into out for 2xx and 409
// replies. Transport failures, 5xx and 429 map to ErrUpstreamUnavailable;
// 401/403 map to ErrBackendAuth. Other statuses are returned to the caller.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, domain.NewServiceError(domain.ErrValidation, "failed to marshal payload", "MARSHAL_ERROR")
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, domain.NewServiceError(domain.ErrValidation, "failed to create request", "REQUEST_ERROR")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, domain.NewServiceError(domain.ErrUpstreamUnavailable,
			"request failed: "+err.Error(), "HTTP_ERROR")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, domain.NewServiceError(domain.ErrUpstreamUnavailable,
			fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(respBody)),
			"BACKEND_ERROR")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, domain.NewServiceError(domain.ErrBackendAuth,
			fmt.Sprintf("backend returned status %d", resp.StatusCode), "BACKEND_AUTH")
	}

	decode := out != nil && (resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusConflict)
	if decode && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, domain.NewServiceError(domain.ErrUpstreamUnavailable,
				"failed to decode response: "+err.Error(), "DECODE_ERROR")
		}
	}
	return resp.StatusCode, nil
}

func unexpectedStatus(op string, status int) error {
	return domain.NewServiceError(domain.ErrBackendRejected,
		fmt.Sprintf("%s: unexpected backend status %d", op, status), "BACKEND_ERROR")
}
