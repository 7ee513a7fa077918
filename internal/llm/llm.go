package llm

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/jo-hoe/productscribe/internal/catalog"
)

// DefaultSystemPrompt frames the model as a product copywriter.
const DefaultSystemPrompt = "You are an experienced e-commerce copywriter. Given a product photo, write an engaging marketing description of the product shown. Describe what is visible; do not invent brand names, prices or specifications. Reply with the description text only, without headings, lists or quotes."

// DefaultInstructions is the user instruction; %s is replaced by the language name.
const DefaultInstructions = "Write a marketing description of about 60 words for this product in %s."

// Image is the picture to describe: either a fetchable URL or inline bytes.
type Image struct {
	URL      string
	Data     []byte
	MimeType string
}

// Ref returns a URL a vision model can consume: a data URL for inline bytes, else URL.
func (i Image) Ref() string {
	if len(i.Data) == 0 {
		return i.URL
	}
	mt := strings.TrimSpace(i.MimeType)
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Client generates a product description for an image in one language.
type Client interface {
	// Name identifies the provider, e.g. "mock" or "openai".
	Name() string
	// DescribeProduct returns plain-text marketing copy in lang.
	DescribeProduct(ctx context.Context, img Image, lang catalog.Language) (string, error)
}

// Instructions renders tmpl for lang. Templates without a %s verb get the language appended.
func Instructions(tmpl string, lang catalog.Language) string {
	tmpl = strings.TrimSpace(tmpl)
	if tmpl == "" {
		tmpl = DefaultInstructions
	}
	if strings.Contains(tmpl, "%s") {
		return strings.ReplaceAll(tmpl, "%s", lang.Name)
	}
	return tmpl + " Language: " + lang.Name + "."
}
