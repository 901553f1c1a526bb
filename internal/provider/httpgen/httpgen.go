// Package httpgen is the generic JSON-over-HTTP generation provider
// adapter. Most generation vendors expose the same shape: POST a job
// with a model name and an opaque input, get back a hosted artifact URL.
// Per-vendor differences live in configuration (base URL, API key), not
// code.
package httpgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/iamade/litinkapp-sub002/internal/httputil"
	"github.com/iamade/litinkapp-sub002/internal/provider"
)

type Adapter struct {
	vendor  string
	baseURL string
	apiKey  string
	client  *http.Client
}

type generationRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

type generationResponse struct {
	ArtifactURL string `json:"artifact_url"`
	Error       string `json:"error,omitempty"`
}

func New(vendor, baseURL, apiKey string) *Adapter {
	return &Adapter{
		vendor:  vendor,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httputil.DefaultClient(),
	}
}

// NewWithClient injects the HTTP client, used by tests with httptest
// servers.
func NewWithClient(vendor, baseURL, apiKey string, client *http.Client) *Adapter {
	return &Adapter{
		vendor:  vendor,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}
}

func (a *Adapter) Invoke(ctx context.Context, candidate domain.ProviderCandidate, payload json.RawMessage) (*domain.GenerationResult, error) {
	body, err := json.Marshal(generationRequest{
		Model: provider.Model(candidate.ID),
		Input: payload,
	})
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, domain.Retryable(fmt.Errorf("%s: do request: %w", a.vendor, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%s error: status=%d body=%s", a.vendor, resp.StatusCode, string(respBody))
		return nil, classifyStatus(resp.StatusCode, err)
	}

	var genResp generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, domain.Retryable(fmt.Errorf("%s: decode response: %w", a.vendor, err))
	}
	if genResp.ArtifactURL == "" {
		return nil, domain.Retryable(fmt.Errorf("%s: response missing artifact_url", a.vendor))
	}

	return &domain.GenerationResult{
		ProviderID:  candidate.ID,
		ArtifactURL: genResp.ArtifactURL,
	}, nil
}

// classifyStatus maps HTTP status codes onto the retry taxonomy:
// timeouts, rate limits and upstream 5xx are retryable, the remaining
// 4xx (bad input, auth, content policy) are fatal.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return domain.Retryable(err)
	default:
		return domain.Fatal(err)
	}
}
