package common

import (
	"strings"
	"testing"
)

func TestConstantsValues(t *testing.T) {
	if ContentTypeJSON != "application/json" {
		t.Fatalf("ContentTypeJSON = %q", ContentTypeJSON)
	}
	if HeaderAPIKey != "X-API-Key" {
		t.Fatalf("HeaderAPIKey = %q", HeaderAPIKey)
	}
	if PathHealthz != "/healthz" || PathGenerate != "/api/generateDescriptions" {
		t.Fatalf("paths mismatch: %q, %q", PathHealthz, PathGenerate)
	}
	if !strings.HasSuffix(PathFormToggle, "/") || !strings.HasSuffix(PathUploadFiles, "/") {
		t.Fatalf("prefix paths must end with a slash")
	}
	if DefaultConcurrency <= 0 || DefaultPageSize <= 0 {
		t.Fatalf("defaults should be positive")
	}
	if MimeImagePNG != "image/png" || MimeImageJPEG != "image/jpeg" {
		t.Fatalf("mime constants mismatch")
	}
	if UploadsDirName == "" || SessionCookie == "" {
		t.Fatalf("names should be non-empty")
	}
	if StatusCompleted != "completed" || StatusFailed != "failed" {
		t.Fatalf("status constants mismatch")
	}
}
