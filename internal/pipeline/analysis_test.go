package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dreamecho/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"bare", "  {\"a\":1}\n", `{"a":1}`},
		{"first block wins", "```json\n{\"a\":1}\n```\n```json\n{\"b\":2}\n```", `{"a":1}`},
		{"no fence", "not json at all", "not json at all"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Fatalf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractJSONIdempotent(t *testing.T) {
	once := ExtractJSON("```json\n" + validAnalysis + "\n```")
	if once != validAnalysis {
		t.Fatalf("first pass = %q", once)
	}
	if twice := ExtractJSON(once); twice != once {
		t.Fatalf("second pass changed output: %q", twice)
	}
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis("```json\n" + validAnalysis + "\n```")
	if err != nil {
		t.Fatalf("ParseAnalysis error: %v", err)
	}
	if len(a.Keywords) != 5 || a.Symbols[0] != "glass towers" || a.Emotions[1] != "calm" {
		t.Fatalf("analysis = %+v", a)
	}
	if !strings.Contains(a.VisualDescription, "glass skyscrapers") || a.Interpretation == "" {
		t.Fatalf("analysis text fields = %+v", a)
	}
}

func TestParseAnalysisMalformed(t *testing.T) {
	_, err := ParseAnalysis("I could not analyse this dream.")
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestParseAnalysisMissingField(t *testing.T) {
	tests := []struct {
		body  string
		field string
	}{
		{`{"symbols":[],"emotions":[],"visual_description":"","interpretation":""}`, "keywords"},
		{`{"keywords":["a"],"symbols":["b"],"emotions":["c"],"interpretation":"x"}`, "visual_description"},
		{`{"keywords":["a"],"symbols":["b"],"emotions":["c"],"visual_description":"v"}`, "interpretation"},
		{`{"keywords":["a"],"symbols":null,"emotions":["c"],"visual_description":"v","interpretation":"x"}`, "symbols"},
		{`{"keywords":["a"],"symbols":["b"],"emotions":["c"],"visual_description":"","interpretation":"x"}`, "visual_description"},
		{`{"keywords":["a"],"symbols":["b"],"emotions":["c"],"visual_description":"v","interpretation":"  "}`, "interpretation"},
		{`{"keywords":[" ",""],"symbols":["b"],"emotions":["c"],"visual_description":"v","interpretation":"x"}`, "keywords"},
		{`{"keywords":["a"],"symbols":["b"],"emotions":["\t"],"visual_description":"v","interpretation":"x"}`, "emotions"},
	}
	for _, tc := range tests {
		_, err := ParseAnalysis(tc.body)
		var incomplete *domain.IncompleteAnalysisError
		if !errors.As(err, &incomplete) {
			t.Fatalf("expected IncompleteAnalysisError for %s, got %v", tc.body, err)
		}
		if incomplete.Field != tc.field {
			t.Fatalf("missing field = %q, want %q", incomplete.Field, tc.field)
		}
	}
}

func TestAnalyzeSendsDreamText(t *testing.T) {
	client := &stubCompleter{content: validAnalysis}
	stage := NewAnalysisStage(client)

	if _, err := stage.Analyze(context.Background(), "I flew over a city of glass towers"); err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if len(client.messages) != 2 || client.messages[0].Role != "system" {
		t.Fatalf("messages = %+v", client.messages)
	}
	user := client.messages[1].Content
	if !strings.Contains(user, "I flew over a city of glass towers") || !strings.Contains(user, "visual_description") {
		t.Fatalf("user prompt = %q", user)
	}
}

func TestAnalyzePropagatesClientError(t *testing.T) {
	stage := NewAnalysisStage(&stubCompleter{err: errBoom})
	if _, err := stage.Analyze(context.Background(), "dream"); !errors.Is(err, errBoom) {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestBuildGenerationPrompt(t *testing.T) {
	got := BuildGenerationPrompt(domain.Analysis{
		VisualDescription: "a floating glass city",
		Symbols:           []string{"towers", "sky"},
		Emotions:          []string{"awe", "calm"},
	})
	want := "a floating glass city 包含 towers, sky. 整体氛围: awe, calm"
	if got != want {
		t.Fatalf("prompt = %q, want %q", got, want)
	}
}
