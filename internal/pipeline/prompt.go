package pipeline

import (
	"fmt"
	"strings"

	"dreamecho/internal/domain"
)

// BuildGenerationPrompt renders the text-to-model prompt for an analysis.
func BuildGenerationPrompt(a domain.Analysis) string {
	return fmt.Sprintf("%s 包含 %s. 整体氛围: %s",
		a.VisualDescription,
		strings.Join(a.Symbols, ", "),
		strings.Join(a.Emotions, ", "),
	)
}
