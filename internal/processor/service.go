// Package processor is the backend of the generation endpoint: it validates requests,
// fans the languages out to the description model and records every batch.
package processor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/productscribe/internal/catalog"
	"github.com/jo-hoe/productscribe/internal/common"
	"github.com/jo-hoe/productscribe/internal/generate"
	"github.com/jo-hoe/productscribe/internal/history"
	"github.com/jo-hoe/productscribe/internal/llm"
	"github.com/jo-hoe/productscribe/internal/util"
)

// ErrInvalidRequest wraps every validation failure of a generation request.
var ErrInvalidRequest = errors.New("invalid generation request")

// ImageResolver maps URLs of locally stored uploads to their files.
type ImageResolver interface {
	Resolve(rawURL string) (path string, mimeType string, ok bool)
}

// Service generates product descriptions, one model call per language.
type Service struct {
	Log         *slog.Logger
	LLM         llm.Client
	Store       history.Store // optional
	Images      ImageResolver // optional
	Concurrency int

	policy *bluemonday.Policy
}

// New creates a Service. store and images may be nil.
func New(log *slog.Logger, c llm.Client, store history.Store, images ImageResolver, concurrency int) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if concurrency <= 0 {
		concurrency = common.DefaultConcurrency
	}
	return &Service{
		Log:         log,
		LLM:         c,
		Store:       store,
		Images:      images,
		Concurrency: concurrency,
		policy:      bluemonday.StrictPolicy(),
	}
}

// Validate checks a request against the catalog and selection limits.
func Validate(imageURL string, languages []string) error {
	if len(languages) == 0 {
		return fmt.Errorf("%w: at least one language is required", ErrInvalidRequest)
	}
	if len(languages) > catalog.MaxSelected {
		return fmt.Errorf("%w: at most %d languages are allowed", ErrInvalidRequest, catalog.MaxSelected)
	}
	seen := make(map[string]bool, len(languages))
	for _, code := range languages {
		if !catalog.Known(code) {
			return fmt.Errorf("%w: unknown language %q", ErrInvalidRequest, code)
		}
		if seen[code] {
			return fmt.Errorf("%w: duplicate language %q", ErrInvalidRequest, code)
		}
		seen[code] = true
	}
	u, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: imageUrl must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}

// Generate returns one description per language in request order. A failure for any
// language fails the whole batch. Every batch is recorded in the history store.
func (s *Service) Generate(ctx context.Context, imageURL string, languages []string) ([]generate.Description, error) {
	if err := Validate(imageURL, languages); err != nil {
		return nil, err
	}
	start := time.Now()
	imageURL = strings.TrimSpace(imageURL)

	img, err := s.loadImage(imageURL)
	if err != nil {
		s.record(ctx, imageURL, languages, nil, err, start)
		return nil, err
	}

	out := make([]generate.Description, len(languages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)
	for i, code := range languages {
		lang, _ := catalog.Lookup(code)
		g.Go(func() error {
			text, err := s.LLM.DescribeProduct(gctx, img, lang)
			if err != nil {
				return fmt.Errorf("describe in %s: %w", lang.Code, err)
			}
			out[i] = generate.Description{Language: lang.Code, Description: s.plainText(text)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.Log.Error("generation failed", "image", imageURL, "languages", languages, "err", err)
		s.record(ctx, imageURL, languages, nil, err, start)
		return nil, err
	}

	s.Log.Info("generation completed", "image", imageURL, "languages", languages, "duration", time.Since(start))
	s.record(ctx, imageURL, languages, out, nil, start)
	return out, nil
}

// loadImage inlines uploads we store ourselves so the model does not need to reach this host.
func (s *Service) loadImage(imageURL string) (llm.Image, error) {
	img := llm.Image{URL: imageURL}
	if s.Images == nil {
		return img, nil
	}
	path, mimeType, ok := s.Images.Resolve(imageURL)
	if !ok {
		return img, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the uploader's own directory
	if err != nil {
		return llm.Image{}, fmt.Errorf("read stored image: %w", err)
	}
	img.Data = data
	img.MimeType = mimeType
	return img, nil
}

// plainText strips any markup the model produced and returns unescaped text.
func (s *Service) plainText(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

func (s *Service) record(ctx context.Context, imageURL string, languages []string, out []generate.Description, genErr error, start time.Time) {
	if s.Store == nil {
		return
	}
	rec := &history.Record{
		ID:           util.NewID(),
		ImageURL:     imageURL,
		Languages:    languages,
		Descriptions: out,
		Status:       common.StatusCompleted,
		Provider:     s.LLM.Name(),
		CreatedAt:    start.UTC(),
		Duration:     time.Since(start),
	}
	if genErr != nil {
		msg := genErr.Error()
		rec.Status = common.StatusFailed
		rec.ErrorMessage = &msg
	}
	// The caller may have gone away; the record is still worth keeping.
	if err := s.Store.Create(context.WithoutCancel(ctx), rec); err != nil {
		s.Log.Warn("record generation", "err", err)
	}
}
