package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jo-hoe/productscribe/internal/catalog"
	"github.com/jo-hoe/productscribe/internal/config"
	"github.com/jo-hoe/productscribe/internal/llm"
)

var _ llm.Client = (*Client)(nil)

const defaultTimeout = 60 * time.Second

// Client implements llm.Client with the OpenAI SDK.
type Client struct {
	oac         *oagc.Client
	model       string
	system      string
	temperature float64
	maxTokens   int
	rl          *rateLimiter
}

// New creates a client. Extra options are appended after the config-derived ones.
func New(cfg config.OpenAISettings, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: defaultTimeout}),
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		base = append(base, option.WithBaseURL(u))
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 20
	}

	return &Client{
		oac:         oagc.NewClient(append(base, opts...)...),
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		rl:          newRateLimiter(rpm, time.Minute),
	}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Model() string { return c.model }

func (c *Client) DescribeProduct(ctx context.Context, img llm.Image, lang catalog.Language) (string, error) {
	ref := img.Ref()
	if ref == "" {
		return "", errors.New("image is empty")
	}

	// Rate limit use of the OpenAI API
	if err := c.rl.Acquire(ctx); err != nil {
		return "", err
	}

	system := strings.TrimSpace(c.system)
	if system == "" {
		system = llm.DefaultSystemPrompt
	}

	params := oagc.ChatCompletionNewParams{
		Model: oagc.F(oagc.ChatModel(c.model)),
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.SystemMessage(system),
			oagc.UserMessageParts(
				oagc.TextPart(llm.Instructions("", lang)),
				oagc.ImagePart(ref),
			),
		}),
	}
	if c.temperature != 0 {
		params.Temperature = oagc.F(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = oagc.F(int64(c.maxTokens))
	}

	resp, err := c.oac.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("empty completion")
	}
	return out, nil
}
