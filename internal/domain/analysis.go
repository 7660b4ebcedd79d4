package domain

// Analysis is the structured interpretation returned by the text-analysis service.
type Analysis struct {
	Keywords          []string `json:"keywords"`
	Symbols           []string `json:"symbols"`
	Emotions          []string `json:"emotions"`
	VisualDescription string   `json:"visual_description"`
	Interpretation    string   `json:"interpretation"`
}
