package model

import (
	"fmt"
	"strings"
)

// Task selects the per-segment transformation
type Task int

const (
	TaskAnomalies Task = iota + 1
	TaskTestCases
	TaskFixes
	TaskRevise
	TaskConvert
)

func (t Task) String() string {
	switch t {
	case TaskAnomalies:
		return "anomalies"
	case TaskTestCases:
		return "testcases"
	case TaskFixes:
		return "fixes"
	case TaskRevise:
		return "revise"
	case TaskConvert:
		return "convert"
	default:
		return "unknown"
	}
}

// ItemKind returns the item variant a task produces
func (t Task) ItemKind() ItemKind {
	switch t {
	case TaskAnomalies:
		return ItemAnomaly
	case TaskTestCases:
		return ItemTestCase
	case TaskFixes:
		return ItemFix
	case TaskConvert:
		return ItemRequirement
	case TaskRevise:
		return ItemUnknown
	default:
		return ItemUnknown
	}
}

// ParseTask accepts the String form plus a few aliases
func ParseTask(s string) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anomalies", "anomaly", "analyze", "analysis":
		return TaskAnomalies, nil
	case "testcases", "testcase", "tests":
		return TaskTestCases, nil
	case "fixes", "fix":
		return TaskFixes, nil
	case "revise", "revision":
		return TaskRevise, nil
	case "convert", "brd-to-frd", "frd":
		return TaskConvert, nil
	default:
		return 0, fmt.Errorf("unknown task %q (want anomalies, testcases, fixes, revise or convert)", s)
	}
}
