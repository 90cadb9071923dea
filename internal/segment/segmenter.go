package segment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/reqflow/internal/model"
)

const (
	DefaultMinWords = 40
	DefaultMaxWords = 900

	preambleLabel = "PREAMBLE"
	maxCapsWords  = 8
)

var (
	// "1 Scope", "2.3 Login", "4.1.2. Audit trail"
	numberedHeaderPattern = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+\S`)
	// "FUNCTIONAL REQUIREMENTS", "USER ROLES & ACCESS"
	capsHeaderPattern = regexp.MustCompile(`^[A-Z][A-Z0-9 &/\-]{3,}$`)
	paragraphPattern  = regexp.MustCompile(`\n[ \t]*\n`)
)

// Splitter turns extracted document text into ordered segments
type Splitter interface {
	Split(text string) []model.Segment
}

// Segmenter splits text on header-like lines, falling back to
// blank-line paragraphs packed by word count
type Segmenter struct {
	MinWords int
	MaxWords int
}

// NewSegmenter creates a header/gap segmenter
func NewSegmenter(minWords, maxWords int) *Segmenter {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	if minWords < 0 {
		minWords = 0
	}
	if minWords >= maxWords {
		minWords = maxWords / 2
	}
	return &Segmenter{MinWords: minWords, MaxWords: maxWords}
}

// Split returns labeled segments in document order. Empty input yields nil.
func (s *Segmenter) Split(text string) []model.Segment {
	text = normalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	segments := s.splitByHeaders(text)
	if len(segments) == 0 {
		return s.splitByGaps(text)
	}

	var out []model.Segment
	for _, seg := range segments {
		out = append(out, s.splitOversized(seg, s.MaxWords)...)
	}
	return renumber(out)
}

// splitByHeaders returns nil when the text has no header-like lines
func (s *Segmenter) splitByHeaders(text string) []model.Segment {
	lines := strings.Split(text, "\n")

	type header struct {
		line  int
		label string
	}
	var headers []header
	for i, line := range lines {
		if label, ok := headerLabel(line); ok {
			headers = append(headers, header{line: i, label: label})
		}
	}
	if len(headers) == 0 {
		return nil
	}

	var segments []model.Segment
	if pre := strings.TrimSpace(strings.Join(lines[:headers[0].line], "\n")); pre != "" {
		segments = append(segments, model.Segment{Label: preambleLabel, Text: pre})
	}

	for i, h := range headers {
		end := len(lines)
		if i+1 < len(headers) {
			end = headers[i+1].line
		}
		label := h.label
		if label == "" {
			label = fmt.Sprintf("SEC_%03d", i+1)
		}
		segments = append(segments, model.Segment{
			Label: label,
			Text:  strings.TrimSpace(strings.Join(lines[h.line:end], "\n")),
		})
	}
	return segments
}

// headerLabel reports whether line is a header and, for numbered headers, its numeral
func headerLabel(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if m := numberedHeaderPattern.FindStringSubmatch(trimmed); m != nil {
		return m[1], true
	}
	if capsHeaderPattern.MatchString(trimmed) && len(strings.Fields(trimmed)) <= maxCapsWords {
		return "", true
	}
	return "", false
}

func (s *Segmenter) splitByGaps(text string) []model.Segment {
	chunks := mergeSmall(packParagraphs(paragraphs(text), s.MaxWords), s.MinWords)

	var out []model.Segment
	for i, chunk := range chunks {
		seg := model.Segment{Label: fmt.Sprintf("SEC_%03d", i+1), Text: chunk}
		// Merging may push a chunk past MaxWords by less than MinWords; only re-split beyond that.
		out = append(out, s.splitOversized(seg, s.MaxWords+s.MinWords)...)
	}
	return renumber(out)
}

// splitOversized breaks a segment above limit words at paragraph boundaries.
// A single paragraph larger than the limit is kept whole.
func (s *Segmenter) splitOversized(seg model.Segment, limit int) []model.Segment {
	if wordCount(seg.Text) <= limit {
		return []model.Segment{seg}
	}

	parts := packParagraphs(paragraphs(seg.Text), s.MaxWords)
	if len(parts) <= 1 {
		return []model.Segment{seg}
	}

	out := make([]model.Segment, 0, len(parts))
	for i, part := range parts {
		out = append(out, model.Segment{
			Label: fmt.Sprintf("%s_%d", seg.Label, i+1),
			Text:  part,
		})
	}
	return out
}

// packParagraphs greedily packs paragraphs into chunks of at most maxWords
func packParagraphs(paras []string, maxWords int) []string {
	var chunks []string
	var current []string
	count := 0

	for _, p := range paras {
		n := wordCount(p)
		if count > 0 && count+n > maxWords {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			count = 0
		}
		current = append(current, p)
		count += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}

// mergeSmall folds chunks under minWords into the previous chunk,
// or into the following chunk when the small one comes first
func mergeSmall(chunks []string, minWords int) []string {
	if len(chunks) <= 1 || minWords <= 0 {
		return chunks
	}

	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if len(out) > 0 && wordCount(c) < minWords {
			out[len(out)-1] += "\n\n" + c
			continue
		}
		out = append(out, c)
	}

	if len(out) > 1 && wordCount(out[0]) < minWords {
		out[1] = out[0] + "\n\n" + out[1]
		out = out[1:]
	}
	return out
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphPattern.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func renumber(segments []model.Segment) []model.Segment {
	for i := range segments {
		segments[i].Ordinal = i
	}
	return segments
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Heading returns the first line of a segment's text when that line is a
// section header
func Heading(text string) (string, bool) {
	first, _, _ := strings.Cut(normalizeNewlines(text), "\n")
	first = strings.TrimSpace(first)
	if _, ok := headerLabel(first); !ok {
		return "", false
	}
	return first, true
}
