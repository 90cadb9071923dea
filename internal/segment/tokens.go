package segment

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/reqflow/internal/model"
)

const (
	DefaultMaxTokens = 2000
	DefaultOverlap   = 200
)

// Tokenizer counts model tokens for a single word
type Tokenizer interface {
	Count(word string) int
}

// HeuristicTokenizer estimates one token per four characters, minimum one
type HeuristicTokenizer struct{}

// Count implements Tokenizer
func (HeuristicTokenizer) Count(word string) int {
	n := utf8.RuneCountInString(word) / 4
	if n < 1 {
		return 1
	}
	return n
}

// TokenChunker packs words up to a token budget and repeats the trailing
// overlap of each chunk at the start of the next
type TokenChunker struct {
	MaxTokens int
	Overlap   int
	Tokenizer Tokenizer
}

// NewTokenChunker creates a token-bounded chunker. A nil tokenizer uses the heuristic.
func NewTokenChunker(maxTokens, overlap int, tok Tokenizer) *TokenChunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxTokens {
		overlap = maxTokens / 2
	}
	if tok == nil {
		tok = HeuristicTokenizer{}
	}
	return &TokenChunker{MaxTokens: maxTokens, Overlap: overlap, Tokenizer: tok}
}

// Split implements Splitter
func (c *TokenChunker) Split(text string) []model.Segment {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		chunks      [][]string
		current     []string
		currentToks int
		seenToks    int
		seenWords   int
	)

	for _, w := range words {
		t := c.Tokenizer.Count(w)
		seenToks += t
		seenWords++

		if len(current) > 0 && currentToks+t > c.MaxTokens {
			chunks = append(chunks, current)

			tail := c.overlapTail(current, float64(seenToks)/float64(seenWords))
			current = append(append([]string(nil), tail...), w)
			currentToks = c.count(current)
			continue
		}

		current = append(current, w)
		currentToks += t
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	out := make([]model.Segment, len(chunks))
	for i, chunk := range chunks {
		out[i] = model.Segment{
			Label:   fmt.Sprintf("CHUNK_%03d", i+1),
			Text:    strings.Join(chunk, " "),
			Ordinal: i,
		}
	}
	return out
}

// overlapTail returns the trailing words approximating Overlap tokens.
// At least one word carries over, and never the whole chunk.
func (c *TokenChunker) overlapTail(chunk []string, avgTokensPerWord float64) []string {
	if c.Overlap == 0 || len(chunk) < 2 {
		return nil
	}
	n := int(math.Round(float64(c.Overlap) / avgTokensPerWord))
	if n < 1 {
		n = 1
	}
	if n >= len(chunk) {
		n = len(chunk) - 1
	}
	return chunk[len(chunk)-n:]
}

func (c *TokenChunker) count(words []string) int {
	total := 0
	for _, w := range words {
		total += c.Tokenizer.Count(w)
	}
	return total
}

// New builds the splitter selected by cfg.Strategy
func New(cfg model.SegmenterConfig, tok Tokenizer) (Splitter, error) {
	switch strings.ToLower(cfg.Strategy) {
	case "", "structure", "headers":
		return NewSegmenter(cfg.MinWords, cfg.MaxWords), nil
	case "tokens", "token":
		return NewTokenChunker(cfg.MaxTokens, cfg.Overlap, tok), nil
	default:
		return nil, fmt.Errorf("unknown segmenter strategy %q (supported: structure, tokens)", cfg.Strategy)
	}
}
