package infra

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 0f6c1f6e-1b7a-4f55-9a43-6c0f3d2b9e11\nselect 1;\n"
	marker, body, err := ExtractMarker(query)
	if err != nil {
		t.Fatalf("ExtractMarker error: %v", err)
	}
	if marker != "0f6c1f6e-1b7a-4f55-9a43-6c0f3d2b9e11" {
		t.Fatalf("marker = %q", marker)
	}
	if strings.TrimSpace(body) != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsUnmarked(t *testing.T) {
	for _, query := range []string{"select 1;", "--sql not-a-uuid\nselect 1;", "   "} {
		if _, _, err := ExtractMarker(query); err == nil {
			t.Fatalf("expected error for %q", query)
		}
	}
	if _, _, err := ExtractMarker("select 1;"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
}
