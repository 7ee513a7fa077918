// Package catalog holds the fixed set of languages descriptions can be generated in.
package catalog

// MaxSelected is the largest number of languages a single request may target.
const MaxSelected = 3

// Language is a catalog entry: a short code and its English display name.
type Language struct {
	Code string `json:"code"` // e.g., "de"
	Name string `json:"name"` // e.g., "German"
}

var languages = []Language{
	{Code: "en", Name: "English"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "zh", Name: "Chinese"},
}

var byCode = func() map[string]Language {
	m := make(map[string]Language, len(languages))
	for _, l := range languages {
		m[l.Code] = l
	}
	return m
}()

// All returns the catalog in display order. The slice is a copy.
func All() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// Lookup returns the language for code.
func Lookup(code string) (Language, bool) {
	l, ok := byCode[code]
	return l, ok
}

// Known reports whether code is in the catalog.
func Known(code string) bool {
	_, ok := byCode[code]
	return ok
}

// Name returns the display name for code, or "" for unknown codes.
func Name(code string) string {
	return byCode[code].Name
}
