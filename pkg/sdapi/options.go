package sdapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const optionCheckpoint = "sd_model_checkpoint"

// Model is one entry of GET /sdapi/v1/sd-models
type Model struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	Hash      string `json:"hash"`
	Filename  string `json:"filename"`
}

// Options returns the backend's current option values
func (c *Client) Options(ctx context.Context) (map[string]any, error) {
	respBody, err := c.sendRequest(ctx, http.MethodGet, "/sdapi/v1/options", nil)
	if err != nil {
		return nil, fmt.Errorf("options request failed: %w", err)
	}

	var opts map[string]any
	if err := json.Unmarshal(respBody, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}
	return opts, nil
}

// SetOptions updates the given backend options
func (c *Client) SetOptions(ctx context.Context, values map[string]any) error {
	if _, err := c.sendRequest(ctx, http.MethodPost, "/sdapi/v1/options", values); err != nil {
		return fmt.Errorf("failed to update options: %w", err)
	}
	return nil
}

// Bool reads a boolean option. present is false when the backend does not know key.
func (c *Client) Bool(ctx context.Context, key string) (bool, bool, error) {
	opts, err := c.Options(ctx)
	if err != nil {
		return false, false, err
	}
	raw, ok := opts[key]
	if !ok {
		return false, false, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, true, fmt.Errorf("option %s is %T, not a bool", key, raw)
	}
	return v, true, nil
}

// SetBool writes a boolean option
func (c *Client) SetBool(ctx context.Context, key string, value bool) error {
	return c.SetOptions(ctx, map[string]any{key: value})
}

// Models lists the checkpoints the backend can load
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	respBody, err := c.sendRequest(ctx, http.MethodGet, "/sdapi/v1/sd-models", nil)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}

	var models []Model
	if err := json.Unmarshal(respBody, &models); err != nil {
		return nil, fmt.Errorf("failed to parse models: %w", err)
	}
	return models, nil
}

// Current returns the title of the active checkpoint
func (c *Client) Current(ctx context.Context) (string, error) {
	opts, err := c.Options(ctx)
	if err != nil {
		return "", err
	}
	name, _ := opts[optionCheckpoint].(string)
	if name == "" {
		return "", fmt.Errorf("backend reports no active checkpoint")
	}
	return name, nil
}

// Activate loads the checkpoint matching name. A short model name is
// resolved to the full title when the backend lists it.
func (c *Client) Activate(ctx context.Context, name string) error {
	title := name
	if models, err := c.Models(ctx); err == nil {
		if m, ok := findModel(models, name); ok {
			title = m.Title
		}
	}
	return c.SetOptions(ctx, map[string]any{optionCheckpoint: title})
}

func findModel(models []Model, name string) (Model, bool) {
	for _, m := range models {
		if m.Title == name {
			return m, true
		}
	}
	for _, m := range models {
		if strings.EqualFold(m.ModelName, name) || m.Hash == name {
			return m, true
		}
	}
	return Model{}, false
}
