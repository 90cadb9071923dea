package model

import (
	"encoding/json"
	"testing"
)

func TestVersionKind_JSON(t *testing.T) {
	for _, k := range VersionKinds {
		data, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var got VersionKind
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != k {
			t.Errorf("round trip: got %v, want %v", got, k)
		}
	}

	if _, err := json.Marshal(VersionKind(0)); err == nil {
		t.Error("expected error marshaling zero kind")
	}
	if _, err := ParseVersionKind("deleted"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestParseDocKind(t *testing.T) {
	tests := []struct {
		in      string
		want    DocKind
		wantErr bool
	}{
		{"brd", DocBusiness, false},
		{"Business", DocBusiness, false},
		{" FRD ", DocFunctional, false},
		{"functional", DocFunctional, false},
		{"srs", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDocKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDocKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDocKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestItemKind(t *testing.T) {
	if k := (Item{Anomaly: &Anomaly{}}).Kind(); k != ItemAnomaly {
		t.Errorf("expected anomaly, got %v", k)
	}
	if k := (Item{TestCase: &TestCase{}}).Kind(); k != ItemTestCase {
		t.Errorf("expected testcase, got %v", k)
	}
	if k := (Item{Fix: &Fix{}}).Kind(); k != ItemFix {
		t.Errorf("expected fix, got %v", k)
	}
	if k := (Item{Requirement: &Requirement{}}).Kind(); k != ItemRequirement {
		t.Errorf("expected requirement, got %v", k)
	}
	if k := TaskConvert.ItemKind(); k != ItemRequirement {
		t.Errorf("convert should produce requirements, got %v", k)
	}
	if k := (Item{}).Kind(); k != ItemUnknown {
		t.Errorf("expected unknown, got %v", k)
	}
}

func TestPayloadClone_Independent(t *testing.T) {
	orig := Payload{
		Items: []Item{
			{ID: 1, TestCase: &TestCase{Title: "login", Steps: []string{"open", "submit"}}},
			{ID: 2, Anomaly: &Anomaly{Issue: "ambiguous"}},
		},
		Text: "body",
	}

	clone := orig.Clone()
	clone.Items[0].TestCase.Steps[0] = "changed"
	clone.Items[1].Anomaly.Issue = "changed"

	if orig.Items[0].TestCase.Steps[0] != "open" {
		t.Error("clone shares test case steps with original")
	}
	if orig.Items[1].Anomaly.Issue != "ambiguous" {
		t.Error("clone shares anomaly with original")
	}
}

func TestNormalizeSeverityAndPriority(t *testing.T) {
	if NormalizeSeverity("Critical") != SeverityHigh {
		t.Error("critical should map to high")
	}
	if NormalizeSeverity("") != SeverityMedium {
		t.Error("empty should map to medium")
	}
	if NormalizePriority("p0") != PriorityP0 {
		t.Error("p0 should map to P0")
	}
	if NormalizePriority("whatever") != PriorityP1 {
		t.Error("unknown should map to P1")
	}
}
