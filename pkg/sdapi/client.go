// Package sdapi talks to an AUTOMATIC1111-compatible Stable Diffusion web API.
package sdapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrEmptyResponse is returned when the backend answers without an image
var ErrEmptyResponse = errors.New("sdapi: response contains no image")

const defaultTimeout = 10 * time.Minute

// Client is a minimal client for the /sdapi/v1 endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
	defaults   Defaults
}

// Defaults fill regeneration options left at their zero value
type Defaults struct {
	Steps             int     `json:"steps" yaml:"steps"`
	CFGScale          float64 `json:"cfg_scale" yaml:"cfg_scale"`
	Sampler           string  `json:"sampler" yaml:"sampler"`
	DenoisingStrength float64 `json:"denoising_strength" yaml:"denoising_strength"`
	MaskBlur          int     `json:"mask_blur" yaml:"mask_blur"`
	InpaintPadding    int     `json:"inpaint_full_res_padding" yaml:"inpaint_full_res_padding"`
}

// DefaultDefaults mirrors the web UI's img2img defaults
func DefaultDefaults() Defaults {
	return Defaults{
		Steps:             20,
		CFGScale:          7,
		Sampler:           "Euler a",
		DenoisingStrength: 0.4,
		MaskBlur:          4,
		InpaintPadding:    32,
	}
}

// NewClient creates a client for serverURL, http://127.0.0.1:7860 when empty
func NewClient(serverURL string, defaults Defaults) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://127.0.0.1:7860"
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sdapi URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid sdapi URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid sdapi URL: missing host")
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		defaults: defaults,
	}, nil
}

// Interrupt asks the backend to stop the running generation
func (c *Client) Interrupt(ctx context.Context) error {
	_, err := c.sendRequest(ctx, http.MethodPost, "/sdapi/v1/interrupt", nil)
	return err
}

// Skip asks the backend to skip the current image of the running batch
func (c *Client) Skip(ctx context.Context) error {
	_, err := c.sendRequest(ctx, http.MethodPost, "/sdapi/v1/skip", nil)
	return err
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
