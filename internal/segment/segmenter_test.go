package segment

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/reqflow/internal/model"
)

// words returns n lowercase filler words starting at offset
func words(n, offset int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", offset+i)
	}
	return strings.Join(w, " ")
}

func paragraphsOf(count, size int) string {
	paras := make([]string, count)
	for i := range paras {
		paras[i] = words(size, i*size)
	}
	return strings.Join(paras, "\n\n")
}

func labels(segs []model.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Label
	}
	return out
}

func TestSegmenter_Empty(t *testing.T) {
	s := NewSegmenter(DefaultMinWords, DefaultMaxWords)
	if got := s.Split(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := s.Split(" \n\n\t "); got != nil {
		t.Errorf("expected nil for blank input, got %v", got)
	}
}

func TestSegmenter_Headers(t *testing.T) {
	text := `Document control and revision notes.

1 Scope
The platform covers onboarding.

1.1 Users
Users can register with an email address.
GLOSSARY
KYC: know your customer.`

	segs := NewSegmenter(DefaultMinWords, DefaultMaxWords).Split(text)

	want := []string{"PREAMBLE", "1", "1.1", "SEC_003"}
	if diff := cmp.Diff(want, labels(segs)); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	for i, seg := range segs {
		if seg.Ordinal != i {
			t.Errorf("segment %d has ordinal %d", i, seg.Ordinal)
		}
	}
	if !strings.HasPrefix(segs[2].Text, "1.1 Users") {
		t.Errorf("segment should start at its header, got %q", segs[2].Text)
	}
	if !strings.Contains(segs[3].Text, "KYC") {
		t.Errorf("last segment should run to end of text, got %q", segs[3].Text)
	}
}

func TestSegmenter_CoversAllContent(t *testing.T) {
	tests := map[string]string{
		"headers": "INTRODUCTION\n" + paragraphsOf(3, 30) + "\n2 Requirements\n" + paragraphsOf(4, 25),
		"gaps":    paragraphsOf(12, 70),
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			segs := NewSegmenter(40, 200).Split(text)
			if len(segs) == 0 {
				t.Fatal("expected at least one segment")
			}
			var got []string
			for _, s := range segs {
				got = append(got, strings.Fields(s.Text)...)
			}
			if diff := cmp.Diff(strings.Fields(text), got); diff != "" {
				t.Errorf("segments do not reconstruct input (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSegmenter_OversizedHeaderSection(t *testing.T) {
	text := "2 Big\n\n" + words(6, 0) + "\n\n" + words(6, 100)
	segs := NewSegmenter(1, 10).Split(text)

	if diff := cmp.Diff([]string{"2_1", "2_2"}, labels(segs)); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestSegmenter_SingleHugeParagraphKept(t *testing.T) {
	text := words(50, 0)
	segs := NewSegmenter(1, 10).Split(text)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if wordCount(segs[0].Text) != 50 {
		t.Errorf("expected all 50 words kept, got %d", wordCount(segs[0].Text))
	}
}

func TestPackParagraphs_GapScenario(t *testing.T) {
	// 4500 words in 45 paragraphs, no headers
	paras := paragraphs(paragraphsOf(45, 100))
	chunks := packParagraphs(paras, 900)
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks before merging, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := wordCount(c); n != 900 {
			t.Errorf("chunk %d has %d words, want 900", i, n)
		}
	}
}

func TestSegmenter_MergesTrailingSmallChunk(t *testing.T) {
	text := paragraphsOf(45, 100) + "\n\n" + words(10, 9000)

	if got := len(packParagraphs(paragraphs(text), 900)); got != 6 {
		t.Fatalf("expected 6 packed chunks before merging, got %d", got)
	}

	segs := NewSegmenter(40, 900).Split(text)
	want := []string{"SEC_001", "SEC_002", "SEC_003", "SEC_004", "SEC_005"}
	if diff := cmp.Diff(want, labels(segs)); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	if n := wordCount(segs[4].Text); n != 910 {
		t.Errorf("last segment should absorb the small tail, got %d words", n)
	}
}

func TestMergeSmall_LeadingChunk(t *testing.T) {
	got := mergeSmall([]string{"a b", words(50, 0), words(50, 100)}, 40)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if !strings.HasPrefix(got[0], "a b\n\n") {
		t.Errorf("leading small chunk should merge forward, got %q", got[0][:10])
	}
}

func TestHeaderLabel(t *testing.T) {
	tests := []struct {
		line   string
		label  string
		header bool
	}{
		{"1 Introduction", "1", true},
		{"3.2.1 Password reset", "3.2.1", true},
		{"4. Reporting", "4", true},
		{"FUNCTIONAL REQUIREMENTS", "", true},
		{"USE", "", false},
		{"The system SHALL respond", "", false},
		{"THIS IS A VERY LONG SHOUTED LINE THAT IS NOT A HEADER AT ALL", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		label, ok := headerLabel(tt.line)
		if ok != tt.header || label != tt.label {
			t.Errorf("headerLabel(%q) = (%q, %v), want (%q, %v)", tt.line, label, ok, tt.label, tt.header)
		}
	}
}

func TestHeading(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"2.1 Login\nUsers sign in.", "2.1 Login", true},
		{"  USER ROLES\r\nAdmins.", "USER ROLES", true},
		{"Users sign in.\n2.1 Login", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Heading(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Heading(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}
