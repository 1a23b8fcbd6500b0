// Package client is the HTTP client the flagship CLI uses to talk to the API.
// Saves are never retried: a 409 goes back to the caller to reload and re-apply.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/validation"
)

// ErrConflict is matched by errors.Is for a 409 on save.
var ErrConflict = errors.New("rule-set was changed by someone else")

// APIError is a non-2xx response decoded from the API's error envelope.
type APIError struct {
	StatusCode      int                `json:"-"`
	Code            string             `json:"code"`
	Message         string             `json:"message"`
	Issues          []validation.Issue `json:"issues,omitempty"`
	IncompleteRules []int              `json:"incompleteRules,omitempty"`
	RequestID       string             `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (status %d", e.StatusCode)
	if e.Code != "" {
		msg += ", " + e.Code
	}
	msg += ")"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is makes errors.Is(err, ErrConflict) work for 409s.
func (e *APIError) Is(target error) bool {
	return target == ErrConflict && e.StatusCode == http.StatusConflict
}

// ValidationReport is the result of validating a draft on the server.
type ValidationReport struct {
	Valid           bool               `json:"valid"`
	Issues          []validation.Issue `json:"issues"`
	IncompleteRules []int              `json:"incompleteRules"`
	States          []string           `json:"states"`
}

// Client is an HTTP client for the flagrules API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// do sends body as JSON and decodes a 2xx response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(bodyBytes))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func envQuery(env string) url.Values {
	if env == "" {
		return nil
	}
	return url.Values{"env": {env}}
}

// ListFeatures retrieves all features of an environment
func (c *Client) ListFeatures(ctx context.Context, env string) ([]rules.Feature, error) {
	var result struct {
		Features []rules.Feature `json:"features"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/features", envQuery(env), nil, &result); err != nil {
		return nil, err
	}
	return result.Features, nil
}

// GetFeature retrieves a single feature by key
func (c *Client) GetFeature(ctx context.Context, key, env string) (*rules.Feature, error) {
	var f rules.Feature
	if err := c.do(ctx, http.MethodGet, "/v1/features/"+url.PathEscape(key), envQuery(env), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFeature creates or replaces a feature definition with its rule-set.
func (c *Client) UpsertFeature(ctx context.Context, f rules.Feature) (*rules.Feature, error) {
	var saved rules.Feature
	path := "/v1/features/" + url.PathEscape(f.Identifier)
	if err := c.do(ctx, http.MethodPut, path, envQuery(f.EnvProperties.Environment), f, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteFeature deletes a feature
func (c *Client) DeleteFeature(ctx context.Context, key, env string) error {
	return c.do(ctx, http.MethodDelete, "/v1/features/"+url.PathEscape(key), envQuery(env), nil, nil)
}

// SaveRules replaces a feature's rule-set. props.Version must be the version it was loaded at.
func (c *Client) SaveRules(ctx context.Context, key, env string, props rules.EnvProperties) (*rules.EnvProperties, error) {
	var result struct {
		EnvProperties rules.EnvProperties `json:"envProperties"`
	}
	path := "/v1/features/" + url.PathEscape(key) + "/rules"
	if err := c.do(ctx, http.MethodPut, path, envQuery(env), props, &result); err != nil {
		return nil, err
	}
	return &result.EnvProperties, nil
}

// ValidateRules asks the server to validate a rule-set without saving it.
func (c *Client) ValidateRules(ctx context.Context, key, env string, props rules.EnvProperties) (*ValidationReport, error) {
	var report ValidationReport
	path := "/v1/features/" + url.PathEscape(key) + "/validate"
	if err := c.do(ctx, http.MethodPost, path, envQuery(env), props, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Evaluate evaluates one feature, or all of them when feature is empty.
func (c *Client) Evaluate(ctx context.Context, feature string, target engine.Target) ([]engine.Result, error) {
	req := struct {
		Target  engine.Target `json:"target"`
		Feature string        `json:"feature,omitempty"`
	}{target, feature}
	var resp struct {
		Results []engine.Result `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/evaluate", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// GetSegment retrieves a segment.
func (c *Client) GetSegment(ctx context.Context, id string) (*rules.Segment, error) {
	var seg rules.Segment
	if err := c.do(ctx, http.MethodGet, "/v1/segments/"+url.PathEscape(id), nil, nil, &seg); err != nil {
		return nil, err
	}
	return &seg, nil
}

// UpsertSegment creates or replaces a segment.
func (c *Client) UpsertSegment(ctx context.Context, seg rules.Segment) error {
	return c.do(ctx, http.MethodPut, "/v1/segments/"+url.PathEscape(seg.Identifier), nil, seg, nil)
}
