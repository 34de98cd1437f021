// Package analysis calls the downstream creative-analysis service that
// scores completed experiments.
package analysis

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

	"github.com/adlift-labs/adlift-go/internal/platform/env"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("ADLIFT_ANALYSIS_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: env.String("ADLIFT_ANALYSIS_URL", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("ADLIFT_ANALYSIS_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("ADLIFT_ANALYSIS_TIMEOUT must be positive")
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Analyze asks the analysis service to score one finished experiment. The
// call is fire-and-confirm: a non-2xx response is an error, the response
// body is otherwise ignored.
func (c *Client) Analyze(ctx context.Context, tenantID, experimentID string) error {
	tenantID = strings.TrimSpace(tenantID)
	experimentID = strings.TrimSpace(experimentID)
	if tenantID == "" || experimentID == "" {
		return errors.New("tenant id and experiment id are required")
	}

	raw, err := json.Marshal(map[string]string{
		"tenant_id":     tenantID,
		"experiment_id": experimentID,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyses", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post analysis for experiment %s: %w", experimentID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
