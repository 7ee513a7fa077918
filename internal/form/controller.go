// Package form holds the state behind the product description page: the uploaded image,
// the chosen languages, the generated texts and whether a generation is running.
package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/jo-hoe/productscribe/internal/catalog"
	"github.com/jo-hoe/productscribe/internal/generate"
)

var (
	// ErrNotReady is returned by Submit when no image is present or no language is selected.
	ErrNotReady = errors.New("image and at least one language are required")
	// ErrInFlight is returned by Submit while another generation is running.
	ErrInFlight = errors.New("generation already in progress")
)

// Uploader stores an image and returns a public URL for it.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Generator produces descriptions of the image at imageURL.
type Generator interface {
	Generate(ctx context.Context, imageURL string, languages []string) ([]generate.Description, error)
}

// State is the submission state of a Controller.
type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller owns the state of one form. It is safe for concurrent use; collaborator
// calls run without the lock held.
type Controller struct {
	log       *slog.Logger
	uploader  Uploader
	generator Generator

	mu       sync.Mutex
	image    string // empty means no image
	selected []string
	results  []generate.Description
	state    State
	notice   string
}

// NewController creates an empty form.
func NewController(log *slog.Logger, uploader Uploader, generator Generator) *Controller {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{log: log, uploader: uploader, generator: generator}
}

// HandleImage uploads the picked file and, on success, makes it the current image.
// On failure the current image is kept and a notice is set.
func (c *Controller) HandleImage(ctx context.Context, filename string, r io.Reader) error {
	u, err := c.uploader.Upload(ctx, filename, r)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.notice = "Upload failed. Please try another image."
		c.log.Warn("image upload failed", "filename", filename, "err", err)
		return fmt.Errorf("upload image: %w", err)
	}
	c.image = u
	c.notice = ""
	c.log.Info("image uploaded", "url", u)
	return nil
}

// SetNotice shows msg on the next render. Callers use it for failures that happen
// before the controller is involved, such as an unreadable form.
func (c *Controller) SetNotice(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = msg
}

// RemoveImage clears the current image. Generated results are kept.
func (c *Controller) RemoveImage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = ""
}

// ToggleLanguage removes code when selected, appends it when fewer than
// catalog.MaxSelected are selected, and otherwise does nothing. It reports whether
// the selection changed. Codes outside the catalog are ignored.
func (c *Controller) ToggleLanguage(code string) bool {
	if !catalog.Known(code) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.selected, code); i >= 0 {
		c.selected = slices.Delete(c.selected, i, i+1)
		return true
	}
	if len(c.selected) >= catalog.MaxSelected {
		return false
	}
	c.selected = append(c.selected, code)
	return true
}

// Submit requests descriptions for the current image and selection and waits for the
// outcome. A valid response replaces the previous results as a whole; a failed one
// leaves them untouched.
func (c *Controller) Submit(ctx context.Context) error {
	imageURL, languages, err := c.begin()
	if err != nil {
		return err
	}
	return c.finish(ctx, imageURL, languages)
}

// Start moves the form to InFlight before returning and runs the generation in the
// background, detached from ctx cancellation so a closed browser tab does not abort it.
// The outcome lands in the controller state; done, when non-nil, receives it.
func (c *Controller) Start(ctx context.Context, done chan<- error) error {
	imageURL, languages, err := c.begin()
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		err := c.finish(ctx, imageURL, languages)
		if done != nil {
			done <- err
		}
	}()
	return nil
}

func (c *Controller) begin() (string, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == InFlight {
		return "", nil, ErrInFlight
	}
	if c.image == "" || len(c.selected) == 0 {
		return "", nil, ErrNotReady
	}
	c.state = InFlight
	return c.image, slices.Clone(c.selected), nil
}

func (c *Controller) finish(ctx context.Context, imageURL string, languages []string) error {
	c.log.Info("generation started", "image", imageURL, "languages", languages)
	got, err := c.generator.Generate(ctx, imageURL, languages)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
	if err != nil {
		c.notice = "Generating descriptions failed. Please try again."
		c.log.Error("generation failed", "image", imageURL, "err", err)
		return fmt.Errorf("generate descriptions: %w", err)
	}
	c.results = slices.Clone(got)
	c.notice = ""
	c.log.Info("generation completed", "image", imageURL, "results", len(got))
	return nil
}

// CanSubmit reports whether Submit would issue a request right now.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked()
}

func (c *Controller) canSubmitLocked() bool {
	return c.state == Idle && c.image != "" && len(c.selected) > 0
}

// State returns the current submission state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Selected returns the selected language codes in selection order.
func (c *Controller) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.selected)
}

// Image returns the current image URL and whether one is set.
func (c *Controller) Image() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image, c.image != ""
}

// Results returns the last generated descriptions in response order.
func (c *Controller) Results() []generate.Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.results)
}
