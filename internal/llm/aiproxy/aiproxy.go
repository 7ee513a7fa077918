package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/productscribe/internal/catalog"
	"github.com/jo-hoe/productscribe/internal/common"
	"github.com/jo-hoe/productscribe/internal/config"
	"github.com/jo-hoe/productscribe/internal/llm"
)

var _ llm.Client = (*Client)(nil)

const (
	// Headers
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	// Auth
	authSchemeBearer = "Bearer"

	// Endpoints
	endpointChatCompletions = "v1/chat/completions"

	defaultTimeout = 60 * time.Second
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType represents the type for a multimodal message part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// Client implements llm.Client by calling an OpenAI-compatible AI Proxy.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	system      string
	instr       string
	temperature *float32
	maxTokens   *int
}

// New creates a new AI Proxy LLM client.
func New(cfg config.AIProxySettings) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		instr:       cfg.Instructions,
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

func (c *Client) Name() string { return "aiproxy" }

// DescribeProduct sends one chat completion asking for marketing copy in lang.
func (c *Client) DescribeProduct(ctx context.Context, img llm.Image, lang catalog.Language) (string, error) {
	ref := img.Ref()
	if ref == "" {
		return "", fmt.Errorf("image is empty")
	}
	reqBody := c.buildRequestBody(ref, lang)

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("aiproxy status %d: %s", resp.StatusCode, truncate(string(respBytes), common.ErrorSnippetLimit))
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || strings.TrimSpace(comp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return strings.TrimSpace(comp.Choices[0].Message.Content), nil
}

func (c *Client) buildRequestBody(imageRef string, lang catalog.Language) chatCompletionRequest {
	sys := strings.TrimSpace(c.system)
	if sys == "" {
		sys = llm.DefaultSystemPrompt
	}
	instructions := llm.Instructions(c.instr, lang)

	msgs := []chatMessage{
		{
			Role:    RoleSystem,
			Content: sys,
		},
		{
			Role: RoleUser,
			Content: []messagePart{
				{Type: PartText, Text: &instructions},
				{Type: PartImageURL, ImageURL: &imageURL{URL: imageRef}},
			},
		},
	}

	req := chatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	return req
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenAI-compatible Chat Completions request/response types

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    Role `json:"role"`
	Content any  `json:"content"` // string or []messagePart
}

type messagePart struct {
	Type     PartType  `json:"type"`                // "text" | "image_url"
	Text     *string   `json:"text,omitempty"`      // when Type == "text"
	ImageURL *imageURL `json:"image_url,omitempty"` // when Type == "image_url"
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
