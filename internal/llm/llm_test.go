package llm

import (
	"strings"
	"testing"

	"github.com/jo-hoe/productscribe/internal/catalog"
)

func TestImageRef(t *testing.T) {
	if got := (Image{URL: "https://cdn.example/x.png"}).Ref(); got != "https://cdn.example/x.png" {
		t.Fatalf("url ref = %q", got)
	}
	got := Image{URL: "ignored", Data: []byte("abc"), MimeType: "image/png"}.Ref()
	if got != "data:image/png;base64,YWJj" {
		t.Fatalf("data ref = %q", got)
	}
	if got := (Image{Data: []byte("abc")}).Ref(); !strings.HasPrefix(got, "data:application/octet-stream;base64,") {
		t.Fatalf("missing mime fallback: %q", got)
	}
}

func TestInstructions(t *testing.T) {
	de, _ := catalog.Lookup("de")
	if got := Instructions("", de); !strings.Contains(got, "German") || strings.Contains(got, "%s") {
		t.Fatalf("default instructions = %q", got)
	}
	if got := Instructions("Describe in %s please", de); got != "Describe in German please" {
		t.Fatalf("templated = %q", got)
	}
	if got := Instructions("Be brief.", de); got != "Be brief. Language: German." {
		t.Fatalf("appended = %q", got)
	}
	if got := Instructions("Mention the 100% cotton fabric, in %s.", de); got != "Mention the 100% cotton fabric, in German." {
		t.Fatalf("literal percent signs must survive, got %q", got)
	}
}
