// Package httputil provides JSON response helpers and the HTTP client used to talk to a
// running raffle daemon.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/raffle/internal/serviceauth"
)

// ServiceClient is an HTTP client that attaches a service token when configured.
type ServiceClient struct {
	httpClient     *http.Client
	tokenGenerator *serviceauth.TokenGenerator
	baseURL        string
	maxRetries     int
}

// ServiceClientConfig configures the service client.
type ServiceClientConfig struct {
	Secret     []byte
	ServiceID  string
	TokenTTL   time.Duration // zero means one hour
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewServiceClient creates a new client. A token is only attached when Secret and
// ServiceID are both set.
func NewServiceClient(cfg ServiceClientConfig) (*ServiceClient, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	var tokenGen *serviceauth.TokenGenerator
	if len(cfg.Secret) > 0 && cfg.ServiceID != "" {
		gen, err := serviceauth.NewTokenGenerator(cfg.Secret, cfg.ServiceID, cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
		tokenGen = gen
	}

	return &ServiceClient{
		httpClient:     &http.Client{Timeout: timeout},
		tokenGenerator: tokenGen,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:     maxRetries,
	}, nil
}

// Do executes an HTTP request with a JSON body.
func (c *ServiceClient) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	return c.doWithRetry(ctx, method, path, body, 0)
}

// doWithRetry retries transient auth failures and 503s.
func (c *ServiceClient) doWithRetry(ctx context.Context, method, path string, body interface{}, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokenGenerator != nil {
		token, tokenErr := c.tokenGenerator.GenerateToken()
		if tokenErr != nil {
			return nil, fmt.Errorf("failed to generate service token: %w", tokenErr)
		}
		req.Header.Set(serviceauth.ServiceTokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable && attempt < c.maxRetries {
		resp.Body.Close()
		return c.doWithRetry(ctx, method, path, body, attempt+1)
	}
	return resp, nil
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed with status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// DecodeResponse decodes a JSON response into target. Error statuses become *APIError.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
			if truncated {
				apiErr.Message += "...(truncated)"
			}
		}
		return apiErr
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether the body was longer.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads the body and fails if it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}
