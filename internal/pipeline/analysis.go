package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"dreamecho/internal/domain"
	"dreamecho/internal/providers/deepseek"
)

// Completer is the chat-completions surface the analysis stage needs.
type Completer interface {
	Complete(ctx context.Context, messages []deepseek.Message) (string, error)
}

// HealthChecker reports whether the analysis service is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) bool
}

const analysisSystemPrompt = "你是一个专业的梦境分析师，擅长提取梦境中的关键元素和象征意义。请直接返回JSON格式的结果，不要添加任何Markdown格式。"

const analysisInstruction = `请分析以下梦境描述，并提取以下内容:
1. 5-8个最能代表这个梦境的关键词或短语
2. 3-5个梦境中的核心象征物或场景
3. 这个梦境可能传达的主要情感或感受
4. 一个能够视觉化表达这个梦境的简短描述(50字以内)
5. 对这个梦境的心理学解析(200字以内)

请以JSON格式返回结果，包含字段: keywords, symbols, emotions, visual_description, interpretation

梦境描述:
%s`

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// AnalysisStage turns raw dream text into a validated Analysis.
type AnalysisStage struct {
	client Completer
}

func NewAnalysisStage(client Completer) *AnalysisStage {
	return &AnalysisStage{client: client}
}

// BuildAnalysisMessages returns the chat transcript sent for one dream.
func BuildAnalysisMessages(text string) []deepseek.Message {
	return []deepseek.Message{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(analysisInstruction, text)},
	}
}

// Analyze calls the analysis service and parses its reply. Transport errors
// are returned unwrapped so callers can inspect them.
func (s *AnalysisStage) Analyze(ctx context.Context, text string) (*domain.Analysis, error) {
	content, err := s.client.Complete(ctx, BuildAnalysisMessages(text))
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(content)
}

// ExtractJSON pulls the payload out of a possibly fenced reply. Input that is
// already bare JSON comes back unchanged apart from surrounding whitespace.
func ExtractJSON(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	cleaned := strings.TrimSpace(text)
	if len(cleaned) >= 6 && strings.HasPrefix(cleaned, "```") && strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimSpace(cleaned[3 : len(cleaned)-3])
	}
	return cleaned
}

type analysisPayload struct {
	Keywords          *[]string `json:"keywords"`
	Symbols           *[]string `json:"symbols"`
	Emotions          *[]string `json:"emotions"`
	VisualDescription *string   `json:"visual_description"`
	Interpretation    *string   `json:"interpretation"`
}

// ParseAnalysis decodes an analysis reply and checks every required field.
func ParseAnalysis(content string) (*domain.Analysis, error) {
	raw := ExtractJSON(content)
	var payload analysisPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	switch {
	case payload.Keywords == nil:
		return nil, &domain.IncompleteAnalysisError{Field: "keywords"}
	case payload.Symbols == nil:
		return nil, &domain.IncompleteAnalysisError{Field: "symbols"}
	case payload.Emotions == nil:
		return nil, &domain.IncompleteAnalysisError{Field: "emotions"}
	case payload.VisualDescription == nil:
		return nil, &domain.IncompleteAnalysisError{Field: "visual_description"}
	case payload.Interpretation == nil:
		return nil, &domain.IncompleteAnalysisError{Field: "interpretation"}
	}
	a := &domain.Analysis{
		Keywords:          cleanList(*payload.Keywords),
		Symbols:           cleanList(*payload.Symbols),
		Emotions:          cleanList(*payload.Emotions),
		VisualDescription: strings.TrimSpace(*payload.VisualDescription),
		Interpretation:    strings.TrimSpace(*payload.Interpretation),
	}
	// Present but blank counts as missing.
	switch {
	case len(a.Keywords) == 0:
		return nil, &domain.IncompleteAnalysisError{Field: "keywords"}
	case len(a.Symbols) == 0:
		return nil, &domain.IncompleteAnalysisError{Field: "symbols"}
	case len(a.Emotions) == 0:
		return nil, &domain.IncompleteAnalysisError{Field: "emotions"}
	case a.VisualDescription == "":
		return nil, &domain.IncompleteAnalysisError{Field: "visual_description"}
	case a.Interpretation == "":
		return nil, &domain.IncompleteAnalysisError{Field: "interpretation"}
	}
	return a, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
