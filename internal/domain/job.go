package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DreamStatus enumerates the lifecycle states of a dream generation job.
type DreamStatus string

const (
	DreamStatusPending    DreamStatus = "pending"
	DreamStatusProcessing DreamStatus = "processing"
	DreamStatusComplete   DreamStatus = "complete"
	DreamStatusFailed     DreamStatus = "failed"
)

// MaxDreamTextRunes bounds the accepted input length.
const MaxDreamTextRunes = 4000

// Terminal reports whether no further transition is allowed out of s.
func (s DreamStatus) Terminal() bool {
	return s == DreamStatusComplete || s == DreamStatusFailed
}

// Valid reports whether s is one of the known states.
func (s DreamStatus) Valid() bool {
	switch s {
	case DreamStatusPending, DreamStatusProcessing, DreamStatusComplete, DreamStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next follows
// pending -> processing -> {complete | failed}.
func (s DreamStatus) CanTransition(next DreamStatus) bool {
	switch s {
	case DreamStatusPending:
		return next == DreamStatusProcessing
	case DreamStatusProcessing:
		return next == DreamStatusComplete || next == DreamStatusFailed
	default:
		return false
	}
}

// Dream is one user-submitted dream-to-model generation request.
type Dream struct {
	ID                int64
	OwnerID           int64
	Title             string
	Text              string
	Keywords          []string
	Symbols           []string
	Emotions          []string
	VisualDescription string
	Interpretation    string
	ModelPath         string
	Status            DreamStatus
	ErrorMessage      string
	// DispatchedAt is when the dream was last handed to a dispatcher; zero
	// if never.
	DispatchedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Analyzed reports whether the analysis fields have been populated.
func (d *Dream) Analyzed() bool {
	return d != nil && len(d.Keywords) > 0 && d.VisualDescription != ""
}

// DreamResult is everything the pipeline persists when a dream completes.
type DreamResult struct {
	Analysis  Analysis
	ModelPath string
}

// Validate enforces that a completed dream always carries its analysis and artifact.
func (r DreamResult) Validate() error {
	if strings.TrimSpace(r.ModelPath) == "" {
		return ErrIncompleteResult
	}
	a := r.Analysis
	if len(a.Keywords) == 0 || len(a.Symbols) == 0 || len(a.Emotions) == 0 {
		return ErrIncompleteResult
	}
	if strings.TrimSpace(a.VisualDescription) == "" || strings.TrimSpace(a.Interpretation) == "" {
		return ErrIncompleteResult
	}
	return nil
}

// NormalizeDreamText trims the submission and enforces length bounds.
func NormalizeDreamText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrInvalidInput
	}
	if utf8.RuneCountInString(text) > MaxDreamTextRunes {
		return "", ErrInvalidInput
	}
	return text, nil
}

// DefaultTitle derives a title from the first 30 runes of the dream text.
func DefaultTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= 30 {
		return text
	}
	return string(runes[:30]) + "..."
}
