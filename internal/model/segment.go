package model

// Segment is a contiguous span of a document's text.
// Segments are produced fresh per run and never persisted.
type Segment struct {
	Label   string `json:"label"`
	Text    string `json:"text"`
	Ordinal int    `json:"ordinal"`
}

// PartialResult is the output of processing one segment
type PartialResult struct {
	Label   string `json:"label"`
	Ordinal int    `json:"ordinal"`
	Items   []Item `json:"items"`

	// Failed is set when the backend call or the parse failed and Items was coerced to empty
	Failed bool `json:"failed,omitempty"`
}
