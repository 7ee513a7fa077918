// Package generate talks to the description generation endpoint and defines its wire types.
package generate

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

	"github.com/jo-hoe/productscribe/internal/common"
)

// ErrMalformedResponse is returned when the endpoint answers 2xx with a body that is not
// an array of {language, description} objects.
var ErrMalformedResponse = errors.New("malformed generation response")

// Request is the body sent to the generation endpoint.
type Request struct {
	Languages []string `json:"languages"`
	ImageURL  string   `json:"imageUrl"`
}

// Description is one generated text.
type Description struct {
	Language    string `json:"language"`
	Description string `json:"description"`
}

// Client posts generation requests to a fixed endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// New creates a client for endpoint. A zero timeout leaves requests bounded only by ctx.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

// WithAPIKey makes the client send key in the X-API-Key header.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = strings.TrimSpace(key)
	return c
}

// Generate requests descriptions of the image at imageURL in the given languages.
// The returned slice is exactly what the endpoint sent, in its order.
func (c *Client) Generate(ctx context.Context, imageURL string, languages []string) ([]Description, error) {
	body, err := json.Marshal(Request{Languages: languages, ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	req.Header.Set("Accept", common.ContentTypeJSON)
	if c.apiKey != "" {
		req.Header.Set(common.HeaderAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("generation status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBytes)), common.ErrorSnippetLimit))
	}
	return ParseDescriptions(respBytes)
}

// ParseDescriptions validates and decodes a generation response body.
func ParseDescriptions(data []byte) ([]Description, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an array", ErrMalformedResponse)
	}
	out := make([]Description, 0, len(raw))
	for i, entry := range raw {
		var d Description
		if err := stringField(entry, "language", &d.Language); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedResponse, i, err)
		}
		if strings.TrimSpace(d.Language) == "" {
			return nil, fmt.Errorf("%w: entry %d: empty language", ErrMalformedResponse, i)
		}
		if err := stringField(entry, "description", &d.Description); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedResponse, i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func stringField(entry map[string]json.RawMessage, key string, dst *string) error {
	v, ok := entry[key]
	if !ok {
		return fmt.Errorf("missing %q", key)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%q is not a string", key)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
