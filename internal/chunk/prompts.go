package chunk

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/reqflow/internal/llm"
	"github.com/ppiankov/reqflow/internal/model"
)

const (
	anomalySystem = "You are a senior QA analyst. Extract anomalies from this FRD chunk."
	anomalySchema = `Return strict JSON: { "anomalies": [ {"section": str, "issue": str, ` +
		`"severity": "low|medium|high", "suggestion": str } ] }`

	testCaseSystem = "You are a QA automation lead. Generate thorough test cases. " +
		"Consider applied fixes in the document content if present."
	testCaseSchema = `Output only JSON like this: { "testcases": [ {"id": "TC-001", "title": str, ` +
		`"preconditions": [str], "steps": [str], "expected": str, "priority": "P0|P1|P2"} ] }`

	fixSystem = "You are a senior business analyst. Suggest precise fixes for the selected issues."
	fixSchema = `Return strict JSON: { "fixes": [ {"anomaly_id": int, "section": str, ` +
		`"proposed_text": str, "rationale": str } ] }. ` +
		`proposed_text is the complete replacement text for the section, not a description of the change.`

	reviseSystem = "You are a QA copilot. Update the items according to the user request. " +
		"Preserve all existing items, add new ones if necessary, and modify only requested parts. " +
		"Output strictly valid JSON."

	convertSystem = "You are a Business Analyst converting BRD to FRD. Output strictly valid JSON."
	convertSchema = `Return strict JSON: { "section_id": str, "functional_requirements": [ {"req_id": "FR-001", ` +
		`"title": str, "description": str, "acceptance_criteria": [str], "dependencies": [str] } ] }`
	convertDefault = "Convert this Business Requirement into detailed Functional Requirements. " +
		"Include specific system behaviors, inputs, outputs, validations, and error handling. Be precise and technical."

	relatedHeader = "RELATED SECTIONS FOR CONTEXT:"
)

// Input is everything a single backend call sees
type Input struct {
	Task      model.Task
	Segment   model.Segment
	Neighbors []model.Segment

	// Items carries the anomalies to fix (TaskFixes) or the current
	// payload items (TaskRevise)
	Items []model.Item

	// Message is the user's change request (TaskRevise) or extra
	// conversion instructions (TaskConvert)
	Message string
}

// Kind returns the item kind the call is expected to produce
func (in Input) Kind() model.ItemKind {
	if in.Task == model.TaskRevise {
		for _, it := range in.Items {
			if k := it.Kind(); k != model.ItemUnknown {
				return k
			}
		}
		return model.ItemUnknown
	}
	return in.Task.ItemKind()
}

// Messages builds the system and user messages for an input.
// neighborChars truncates each related section; 0 disables truncation.
func Messages(in Input, neighborChars int) ([]llm.Message, error) {
	var system string
	var user strings.Builder

	switch in.Task {
	case model.TaskAnomalies:
		system = anomalySystem
		user.WriteString(anomalySchema)
	case model.TaskTestCases:
		system = testCaseSystem
		user.WriteString(testCaseSchema)
	case model.TaskFixes:
		system = fixSystem
		user.WriteString(fixSchema)
		issues, err := json.MarshalIndent(wireEnvelope(model.ItemAnomaly, in.Items), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode issues: %w", err)
		}
		user.WriteString("\n\nSelected issues:\n")
		user.Write(issues)
	case model.TaskConvert:
		system = convertSystem
		instructions := strings.TrimSpace(in.Message)
		if instructions == "" {
			instructions = convertDefault
		}
		fmt.Fprintf(&user, "%s\n\n%s", instructions, convertSchema)
	case model.TaskRevise:
		kind := in.Kind()
		if kind == model.ItemUnknown {
			return nil, fmt.Errorf("revise: %w: current version has no items", model.ErrInvalidState)
		}
		system = reviseSystem
		current, err := json.MarshalIndent(wireEnvelope(kind, in.Items), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode current items: %w", err)
		}
		fmt.Fprintf(&user, "Return the complete updated list as { %q: [...] } using the same fields.\n\n", envelopeKey(kind))
		fmt.Fprintf(&user, "User request: %s\n\nCurrent JSON:\n%s", in.Message, current)
	default:
		return nil, fmt.Errorf("unsupported task %s", in.Task)
	}

	if in.Segment.Text != "" {
		fmt.Fprintf(&user, "\n\nChunk %s:\n%s", in.Segment.Label, in.Segment.Text)
	}

	if len(in.Neighbors) > 0 {
		user.WriteString("\n\n")
		user.WriteString(relatedHeader)
		user.WriteString("\n")
		for _, n := range in.Neighbors {
			fmt.Fprintf(&user, "[Related Section %s]\n%s\n", n.Label, truncate(n.Text, neighborChars))
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user.String()},
	}, nil
}

// Neighbors returns up to n segments on each side of segs[i], nearest first
func Neighbors(segs []model.Segment, i, n int) []model.Segment {
	if n <= 0 || i < 0 || i >= len(segs) {
		return nil
	}
	var out []model.Segment
	for d := 1; d <= n; d++ {
		if i-d >= 0 {
			out = append(out, segs[i-d])
		}
		if i+d < len(segs) {
			out = append(out, segs[i+d])
		}
	}
	return out
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
