package form

import (
	"slices"

	"github.com/jo-hoe/productscribe/internal/catalog"
)

// Submit button labels.
const (
	LabelGenerate   = "Generate Descriptions"
	LabelGenerating = "Generating..."
)

// View is a render-ready snapshot of a Controller.
type View struct {
	ImageURL    string
	HasImage    bool
	Chips       []catalog.Language
	Options     []Option
	SubmitLabel string
	CanSubmit   bool
	InFlight    bool
	Results     []Result
	Notice      string
}

// Option is one entry of the language picker.
type Option struct {
	catalog.Language
	Checked  bool
	Disabled bool // unchecked while the selection is full
}

// Result is one generated description block.
type Result struct {
	Code  string
	Title string
	Body  string
}

// HasResults reports whether the results section should be shown.
func (v View) HasResults() bool { return len(v.Results) > 0 }

// View returns a snapshot for rendering. Unknown result codes are titled with the raw code.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		ImageURL:    c.image,
		HasImage:    c.image != "",
		SubmitLabel: LabelGenerate,
		CanSubmit:   c.canSubmitLocked(),
		InFlight:    c.state == InFlight,
		Notice:      c.notice,
	}
	if v.InFlight {
		v.SubmitLabel = LabelGenerating
	}

	for _, code := range c.selected {
		if l, ok := catalog.Lookup(code); ok {
			v.Chips = append(v.Chips, l)
		}
	}

	full := len(c.selected) >= catalog.MaxSelected
	for _, l := range catalog.All() {
		checked := slices.Contains(c.selected, l.Code)
		v.Options = append(v.Options, Option{Language: l, Checked: checked, Disabled: full && !checked})
	}

	for _, d := range c.results {
		title := catalog.Name(d.Language)
		if title == "" {
			title = d.Language
		}
		v.Results = append(v.Results, Result{Code: d.Language, Title: title, Body: d.Description})
	}
	return v
}
