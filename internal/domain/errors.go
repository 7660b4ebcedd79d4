package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrIncompleteResult  = errors.New("incomplete dream result")
	ErrAtCapacity        = errors.New("pipeline at capacity")
	ErrNoArtifact        = errors.New("no artifact produced")
	ErrMalformedResponse = errors.New("malformed analysis response")
)

// IncompleteAnalysisError reports the first required analysis field missing
// from an upstream response.
type IncompleteAnalysisError struct {
	Field string
}

func (e *IncompleteAnalysisError) Error() string {
	return fmt.Sprintf("incomplete analysis: missing field %q", e.Field)
}
