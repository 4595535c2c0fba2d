package prescriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Config holds prescription service configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the prescription generation service
type Client struct {
	config     Config
	httpClient *http.Client
}

// GenerateRequest is the body of a generation call
type GenerateRequest struct {
	UserID      string `json:"user_id"`
	PackageType string `json:"package_type"`
	Reason      string `json:"reason"`
}

// GenerateResponse is the service's reply
type GenerateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		PrescriptionID string   `json:"prescription_id"`
		Frequencies    []string `json:"frequencies"`
	} `json:"data"`
}

// NewClient creates a new prescription service client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Generate asks the service to build a prescription for the user
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/api/prescriptions/generate"

	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.config.APIKey)
	}

	log.Printf("[Prescriber] Requesting prescription for user %s (package: %s, reason: %s)", req.UserID, req.PackageType, req.Reason)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("prescription service error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var out GenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("prescription service error: %s", out.Message)
	}

	return &out, nil
}
