package segment

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ppiankov/reqflow/internal/model"
)

func fourCharWords(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%03d", i)
	}
	return out
}

func TestHeuristicTokenizer(t *testing.T) {
	tok := HeuristicTokenizer{}
	tests := map[string]int{
		"a":            1,
		"abcd":         1,
		"abcdefgh":     2,
		"requirements": 3,
	}
	for word, want := range tests {
		if got := tok.Count(word); got != want {
			t.Errorf("Count(%q) = %d, want %d", word, got, want)
		}
	}
}

func TestTokenChunker_Overlap(t *testing.T) {
	ws := fourCharWords(25)
	c := NewTokenChunker(10, 3, nil)
	segs := c.Split(strings.Join(ws, " "))

	if len(segs) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(segs))
	}

	first := strings.Fields(segs[0].Text)
	if len(first) != 10 {
		t.Errorf("first chunk should hold 10 words, got %d", len(first))
	}

	second := strings.Fields(segs[1].Text)
	if second[0] != "w007" {
		t.Errorf("second chunk should start with 3-word overlap (w007), got %s", second[0])
	}

	if segs[0].Label != "CHUNK_001" || segs[3].Ordinal != 3 {
		t.Errorf("unexpected labeling: %s / %d", segs[0].Label, segs[3].Ordinal)
	}

	// Dropping the overlap from each chunk reconstructs the input
	var rebuilt []string
	rebuilt = append(rebuilt, first...)
	for _, seg := range segs[1:] {
		rebuilt = append(rebuilt, strings.Fields(seg.Text)[3:]...)
	}
	if strings.Join(rebuilt, " ") != strings.Join(ws, " ") {
		t.Errorf("chunks minus overlap do not reconstruct input:\n%v", rebuilt)
	}
}

func TestTokenChunker_NoOverlap(t *testing.T) {
	c := NewTokenChunker(5, 0, nil)
	segs := c.Split(strings.Join(fourCharWords(12), " "))
	if len(segs) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(segs))
	}
	if got := strings.Fields(segs[1].Text)[0]; got != "w005" {
		t.Errorf("expected no overlap, second chunk starts with %s", got)
	}
}

func TestTokenChunker_Empty(t *testing.T) {
	if segs := NewTokenChunker(0, 0, nil).Split("   "); segs != nil {
		t.Errorf("expected nil, got %v", segs)
	}
}

type fixedTokenizer int

func (f fixedTokenizer) Count(string) int { return int(f) }

func TestTokenChunker_CustomTokenizer(t *testing.T) {
	// Two tokens per word: overlap of 4 tokens is two words
	c := NewTokenChunker(8, 4, fixedTokenizer(2))
	segs := c.Split(strings.Join(fourCharWords(8), " "))
	if len(segs) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(segs), segs)
	}
	if got := strings.Fields(segs[1].Text); got[0] != "w002" || len(got) != 4 {
		t.Errorf("unexpected second chunk: %v", got)
	}
}

func TestNew_Strategy(t *testing.T) {
	s, err := New(model.SegmenterConfig{Strategy: "tokens", MaxTokens: 100, Overlap: 10}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(*TokenChunker); !ok {
		t.Errorf("expected *TokenChunker, got %T", s)
	}

	s, err = New(model.SegmenterConfig{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(*Segmenter); !ok {
		t.Errorf("expected *Segmenter, got %T", s)
	}

	if _, err := New(model.SegmenterConfig{Strategy: "semantic"}, nil); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
