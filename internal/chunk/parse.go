package chunk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/reqflow/internal/llm"
	"github.com/ppiankov/reqflow/internal/model"
)

// Parse decodes backend output for a task. ok is false when nothing
// usable was found; the caller then records the segment as failed.
func Parse(task model.Task, text string) ([]model.Item, bool) {
	return ParseItems(task.ItemKind(), text)
}

// ParseItems decodes items of one kind from model output. It tries, in
// order: the raw text, an embedded JSON object, an embedded JSON array
// and, for test cases only, a line-oriented heuristic.
func ParseItems(kind model.ItemKind, text string) ([]model.Item, bool) {
	if kind == model.ItemUnknown {
		return nil, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	if items, ok := decodeItems(kind, []byte(text)); ok {
		return items, true
	}
	if obj := llm.ExtractJSON(text); obj != "" {
		if items, ok := decodeItems(kind, []byte(obj)); ok {
			return items, true
		}
	}
	if arr := llm.ExtractJSONArray(text); arr != "" {
		if items, ok := decodeItems(kind, []byte(arr)); ok {
			return items, true
		}
	}
	if kind == model.ItemTestCase {
		if items := parseTestCaseLines(text); len(items) > 0 {
			return items, true
		}
	}
	return nil, false
}

func envelopeKey(kind model.ItemKind) string {
	switch kind {
	case model.ItemAnomaly:
		return "anomalies"
	case model.ItemTestCase:
		return "testcases"
	case model.ItemFix:
		return "fixes"
	case model.ItemRequirement:
		return "functional_requirements"
	default:
		return "items"
	}
}

// envelopeKeys lists the object keys accepted for a kind
func envelopeKeys(kind model.ItemKind) []string {
	switch kind {
	case model.ItemAnomaly:
		return []string{"anomalies", "issues", "items"}
	case model.ItemTestCase:
		return []string{"testcases", "test_cases", "testCases", "items"}
	case model.ItemFix:
		return []string{"fixes", "proposed_fixes", "items"}
	case model.ItemRequirement:
		return []string{"functional_requirements", "requirements", "items"}
	default:
		return []string{"items"}
	}
}

func decodeItems(kind model.ItemKind, data []byte) ([]model.Item, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false
	}

	switch data[0] {
	case '[':
		return decodeArray(kind, data)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, false
		}
		for _, key := range envelopeKeys(kind) {
			if raw, ok := obj[key]; ok {
				if isNull(raw) {
					return []model.Item{}, true
				}
				return decodeArray(kind, raw)
			}
		}
		// An object with a single array field is taken as the envelope
		var only json.RawMessage
		arrays := 0
		for _, raw := range obj {
			if t := bytes.TrimSpace(raw); len(t) > 0 && t[0] == '[' {
				only = raw
				arrays++
			}
		}
		if arrays == 1 {
			return decodeArray(kind, only)
		}
		return nil, false
	default:
		return nil, false
	}
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func decodeArray(kind model.ItemKind, data []byte) ([]model.Item, bool) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, false
	}

	items := make([]model.Item, 0, len(raws))
	for _, raw := range raws {
		if it, ok := decodeItem(kind, raw); ok {
			items = append(items, it)
		}
	}
	if len(raws) > 0 && len(items) == 0 {
		return nil, false
	}
	return items, true
}

func decodeItem(kind model.ItemKind, raw json.RawMessage) (model.Item, bool) {
	switch kind {
	case model.ItemAnomaly:
		var w anomalyWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return model.Item{}, false
		}
		return w.item()
	case model.ItemTestCase:
		var w testCaseWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return model.Item{}, false
		}
		return w.item()
	case model.ItemFix:
		var w fixWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return model.Item{}, false
		}
		return w.item()
	case model.ItemRequirement:
		var w requirementWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return model.Item{}, false
		}
		return w.item()
	default:
		return model.Item{}, false
	}
}

type anomalyWire struct {
	ID          flexInt    `json:"id,omitempty"`
	Segment     string     `json:"segment,omitempty"`
	Section     flexString `json:"section"`
	Issue       flexString `json:"issue"`
	Description flexString `json:"description,omitempty"`
	Severity    flexString `json:"severity"`
	Suggestion  flexString `json:"suggestion"`
}

func (w anomalyWire) item() (model.Item, bool) {
	issue := strings.TrimSpace(string(w.Issue))
	if issue == "" {
		issue = strings.TrimSpace(string(w.Description))
	}
	if issue == "" {
		return model.Item{}, false
	}
	return model.Item{
		ID:      int(w.ID),
		Segment: w.Segment,
		Anomaly: &model.Anomaly{
			Section:    strings.TrimSpace(string(w.Section)),
			Issue:      issue,
			Severity:   model.NormalizeSeverity(string(w.Severity)),
			Suggestion: strings.TrimSpace(string(w.Suggestion)),
		},
	}, true
}

type testCaseWire struct {
	ItemID        flexInt    `json:"item_id,omitempty"`
	Segment       string     `json:"segment,omitempty"`
	ID            flexString `json:"id"`
	Title         flexString `json:"title"`
	Preconditions stringList `json:"preconditions"`
	Steps         stringList `json:"steps"`
	Expected      flexString `json:"expected"`
	Priority      flexString `json:"priority"`
}

func (w testCaseWire) item() (model.Item, bool) {
	title := strings.TrimSpace(string(w.Title))
	ref := strings.TrimSpace(string(w.ID))
	if title == "" {
		title = ref
	}
	if title == "" && len(w.Steps) == 0 {
		return model.Item{}, false
	}
	return model.Item{
		ID:      int(w.ItemID),
		Segment: w.Segment,
		TestCase: &model.TestCase{
			Ref:           ref,
			Title:         title,
			Preconditions: []string(w.Preconditions),
			Steps:         []string(w.Steps),
			Expected:      strings.TrimSpace(string(w.Expected)),
			Priority:      model.NormalizePriority(string(w.Priority)),
		},
	}, true
}

type fixWire struct {
	ID           flexInt    `json:"id,omitempty"`
	Segment      string     `json:"segment,omitempty"`
	AnomalyID    flexInt    `json:"anomaly_id"`
	Section      flexString `json:"section"`
	ProposedText flexString `json:"proposed_text"`
	Proposed     flexString `json:"proposed,omitempty"`
	Fix          flexString `json:"fix,omitempty"`
	Rationale    flexString `json:"rationale"`
}

func (w fixWire) item() (model.Item, bool) {
	proposed := firstNonEmpty(string(w.ProposedText), string(w.Proposed), string(w.Fix))
	if proposed == "" {
		return model.Item{}, false
	}
	return model.Item{
		ID:      int(w.ID),
		Segment: w.Segment,
		Fix: &model.Fix{
			AnomalyID: int(w.AnomalyID),
			Section:   strings.TrimSpace(string(w.Section)),
			Proposed:  proposed,
			Rationale: strings.TrimSpace(string(w.Rationale)),
		},
	}, true
}

type requirementWire struct {
	ID                 flexInt    `json:"id,omitempty"`
	Segment            string     `json:"segment,omitempty"`
	ReqID              flexString `json:"req_id"`
	Section            flexString `json:"section,omitempty"`
	Title              flexString `json:"title"`
	Description        flexString `json:"description"`
	AcceptanceCriteria stringList `json:"acceptance_criteria"`
	Dependencies       stringList `json:"dependencies"`
}

func (w requirementWire) item() (model.Item, bool) {
	title := strings.TrimSpace(string(w.Title))
	desc := strings.TrimSpace(string(w.Description))
	if title == "" && desc == "" {
		return model.Item{}, false
	}
	return model.Item{
		ID:      int(w.ID),
		Segment: w.Segment,
		Requirement: &model.Requirement{
			Ref:                strings.TrimSpace(string(w.ReqID)),
			Section:            strings.TrimSpace(string(w.Section)),
			Title:              title,
			Description:        desc,
			AcceptanceCriteria: []string(w.AcceptanceCriteria),
			Dependencies:       []string(w.Dependencies),
		},
	}, true
}

// wireEnvelope renders items in the same shape the prompts ask for, so
// revisions and fix requests round-trip through the model
func wireEnvelope(kind model.ItemKind, items []model.Item) map[string]any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		if it.Kind() != kind {
			continue
		}
		switch kind {
		case model.ItemAnomaly:
			out = append(out, anomalyWire{
				ID:         flexInt(it.ID),
				Segment:    it.Segment,
				Section:    flexString(it.Anomaly.Section),
				Issue:      flexString(it.Anomaly.Issue),
				Severity:   flexString(it.Anomaly.Severity),
				Suggestion: flexString(it.Anomaly.Suggestion),
			})
		case model.ItemTestCase:
			out = append(out, testCaseWire{
				ItemID:        flexInt(it.ID),
				Segment:       it.Segment,
				ID:            flexString(it.TestCase.Ref),
				Title:         flexString(it.TestCase.Title),
				Preconditions: stringList(it.TestCase.Preconditions),
				Steps:         stringList(it.TestCase.Steps),
				Expected:      flexString(it.TestCase.Expected),
				Priority:      flexString(it.TestCase.Priority),
			})
		case model.ItemFix:
			out = append(out, fixWire{
				ID:           flexInt(it.ID),
				Segment:      it.Segment,
				AnomalyID:    flexInt(it.Fix.AnomalyID),
				Section:      flexString(it.Fix.Section),
				ProposedText: flexString(it.Fix.Proposed),
				Rationale:    flexString(it.Fix.Rationale),
			})
		case model.ItemRequirement:
			out = append(out, requirementWire{
				ID:                 flexInt(it.ID),
				Segment:            it.Segment,
				ReqID:              flexString(it.Requirement.Ref),
				Section:            flexString(it.Requirement.Section),
				Title:              flexString(it.Requirement.Title),
				Description:        flexString(it.Requirement.Description),
				AcceptanceCriteria: stringList(it.Requirement.AcceptanceCriteria),
				Dependencies:       stringList(it.Requirement.Dependencies),
			})
		case model.ItemUnknown:
		}
	}
	return map[string]any{envelopeKey(kind): out}
}

// flexString accepts any JSON scalar
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if b[0] == '[' || b[0] == '{' {
		return fmt.Errorf("expected scalar, got %s", b[:1])
	}
	*s = flexString(b)
	return nil
}

var digitsPattern = regexp.MustCompile(`\d+`)

// flexInt accepts a number or a string containing one ("3", "#3", "A-3")
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if f, err := strconv.ParseFloat(string(s), 64); err == nil {
		*n = flexInt(f)
		return nil
	}
	if m := digitsPattern.FindString(string(s)); m != "" {
		v, _ := strconv.Atoi(m)
		*n = flexInt(v)
		return nil
	}
	*n = 0
	return nil
}

// stringList accepts an array of scalars or a single newline-separated string
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var raws []flexString
		if err := json.Unmarshal(b, &raws); err != nil {
			return err
		}
		out := make([]string, 0, len(raws))
		for _, r := range raws {
			if v := strings.TrimSpace(string(r)); v != "" {
				out = append(out, v)
			}
		}
		*l = out
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	var out []string
	for _, line := range strings.Split(string(s), "\n") {
		if v := strings.TrimSpace(line); v != "" {
			out = append(out, v)
		}
	}
	*l = out
	return nil
}

var (
	numberedTitlePattern = regexp.MustCompile(`^\d+[.)]\s*(.+)$`)
	labeledTitlePattern  = regexp.MustCompile(`(?i)^((?:test\s*case|tc)[\s\-#]*\d*[\w.\-]*?)\s*[:.\-]\s*(.+)$`)
	fieldPattern         = regexp.MustCompile(`(?i)^(steps|expected(?: result)?|preconditions?|priority)\s*:\s*(.*)$`)
	bulletPattern        = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)
)

// parseTestCaseLines recovers test cases from prose output. Titles start
// with "N.", "Test Case" or "TC"; Steps/Expected/Preconditions/Priority
// lines fill fields of the current case.
func parseTestCaseLines(text string) []model.Item {
	var items []model.Item
	var cur *model.TestCase
	field := ""

	flush := func() {
		if cur != nil && cur.Title != "" {
			cur.Priority = model.NormalizePriority(string(cur.Priority))
			items = append(items, model.Item{TestCase: cur})
		}
		cur = nil
		field = ""
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := labeledTitlePattern.FindStringSubmatch(line); m != nil {
			flush()
			cur = &model.TestCase{Ref: strings.TrimSpace(m[1]), Title: strings.TrimSpace(m[2])}
			continue
		}
		if m := fieldPattern.FindStringSubmatch(line); m != nil && cur != nil {
			field = strings.ToLower(strings.Fields(m[1])[0])
			applyField(cur, field, strings.TrimSpace(m[2]))
			continue
		}
		// Numbered lines are steps inside a steps block, titles elsewhere
		if m := numberedTitlePattern.FindStringSubmatch(line); m != nil && field != "steps" && field != "preconditions" && field != "precondition" {
			flush()
			cur = &model.TestCase{Title: strings.TrimSpace(m[1])}
			continue
		}
		if cur != nil && field != "" {
			applyField(cur, field, line)
		}
	}
	flush()
	return items
}

func applyField(tc *model.TestCase, field, value string) {
	if value == "" {
		return
	}
	value = bulletPattern.ReplaceAllString(value, "")
	switch field {
	case "steps":
		tc.Steps = append(tc.Steps, value)
	case "precondition", "preconditions":
		tc.Preconditions = append(tc.Preconditions, value)
	case "expected":
		if tc.Expected != "" {
			tc.Expected += " "
		}
		tc.Expected += value
	case "priority":
		tc.Priority = model.Priority(value)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
