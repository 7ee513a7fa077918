package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/productscribe/internal/catalog"
	"github.com/jo-hoe/productscribe/internal/config"
	"github.com/jo-hoe/productscribe/internal/llm"
)

var _ llm.Client = (*Client)(nil)

// Client returns canned descriptions after a delay. Useful for local runs and tests.
type Client struct {
	delay  time.Duration
	prefix string
}

// New creates a mock client.
func New(cfg config.MockSettings) *Client {
	return &Client{delay: cfg.Delay, prefix: cfg.Prefix}
}

func (c *Client) Name() string { return "mock" }

func (c *Client) DescribeProduct(ctx context.Context, img llm.Image, lang catalog.Language) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	ref := img.URL
	if len(img.Data) > 0 {
		ref = fmt.Sprintf("inline %s (%d bytes)", img.MimeType, len(img.Data))
	}
	return strings.TrimSpace(fmt.Sprintf("%s (%s): product shown at %s", c.prefix, lang.Name, ref)), nil
}
