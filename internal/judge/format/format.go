package format

import (
	"fmt"
	"strconv"
	"strings"

	"judgeflow/internal/job"
)

// Status classifies a formatted report. Exactly one applies per report and
// the classification is derived deterministically from the raw result.
type Status string

const (
	StatusCompilationError Status = "CompilationError"
	StatusRuntimeError     Status = "RuntimeError"
	StatusTestFailures     Status = "TestFailures"
	StatusAllPassed        Status = "AllPassed"
	StatusRegularOutput    Status = "RegularOutput"
	StatusNoOutput         Status = "NoOutput"
)

// Tagged-line markers emitted by the test wrapper around submitted code.
// The wrapper prints one block per test case:
//
//	@@CASE 1
//	@@INPUT
//	...
//	@@OUTPUT
//	...
//	@@EXPECTED
//	...
//	@@RESULT Passed
//	@@END
const (
	markCase     = "@@CASE"
	markInput    = "@@INPUT"
	markOutput   = "@@OUTPUT"
	markExpected = "@@EXPECTED"
	markResult   = "@@RESULT"
	markEnd      = "@@END"
)

// TestCase is one parsed test-case record.
type TestCase struct {
	Index          int
	Input          string
	ActualOutput   string
	ExpectedOutput string
	Passed         bool
	// Visible is decided by the visibility policy; hidden cases carry no
	// input/output text in the report or in this record.
	Visible bool
}

// Summary aggregates test-case counts.
type Summary struct {
	Total        int
	Passed       int
	Failed       int
	VisibleCount int
	HiddenCount  int
}

// Report is the formatter output: a status classification plus a rendered
// human-readable body whose first line is the status marker token.
type Report struct {
	Status  Status
	Body    string
	Cases   []TestCase
	Summary Summary
	Time    string
	Memory  int64
}

// Formatter turns raw sandbox output into a Report. It is a pure
// transformation: no I/O, no state mutation, identical input yields an
// identical report.
type Formatter struct {
	// VisibleCount is the visibility policy: test cases with index below
	// it render with full detail, the rest render as counts only.
	VisibleCount int
}

// DefaultVisibleCount matches the policy the client UI was built around.
const DefaultVisibleCount = 3

// New creates a formatter with the given visibility policy. visibleCount
// <= 0 selects the default.
func New(visibleCount int) *Formatter {
	if visibleCount <= 0 {
		visibleCount = DefaultVisibleCount
	}
	return &Formatter{VisibleCount: visibleCount}
}

// Format classifies and renders one execution result. Decision order, first
// match wins: compile output, stderr, structured test report in stdout,
// plain stdout, nothing. Unparseable content degrades to RegularOutput or
// NoOutput; Format never fails.
func (f *Formatter) Format(res job.ExecutionResult) Report {
	header := metricsHeader(res)

	if strings.TrimSpace(res.CompileOutput) != "" {
		return Report{
			Status: StatusCompilationError,
			Body:   renderPlain(StatusCompilationError, header, res.CompileOutput),
			Time:   res.Time,
			Memory: res.Memory,
		}
	}
	if strings.TrimSpace(res.Stderr) != "" {
		return Report{
			Status: StatusRuntimeError,
			Body:   renderPlain(StatusRuntimeError, header, res.Stderr),
			Time:   res.Time,
			Memory: res.Memory,
		}
	}

	if hasTestMarkers(res.Stdout) {
		if cases := parseTestCases(res.Stdout); len(cases) > 0 {
			return f.renderTestReport(cases, header, res)
		}
		// Markers without a single parseable case: fall through to plain
		// output so a wrapper bug can never block result delivery.
	}

	if strings.TrimSpace(res.Stdout) != "" {
		return Report{
			Status: StatusRegularOutput,
			Body:   renderPlain(StatusRegularOutput, header, res.Stdout),
			Time:   res.Time,
			Memory: res.Memory,
		}
	}
	return Report{
		Status: StatusNoOutput,
		Body:   renderPlain(StatusNoOutput, header, "No output produced."),
		Time:   res.Time,
		Memory: res.Memory,
	}
}

func metricsHeader(res job.ExecutionResult) string {
	t := res.Time
	if t == "" {
		t = "?"
	}
	return fmt.Sprintf("time: %ss | memory: %d KB", t, res.Memory)
}

func renderPlain(status Status, header, body string) string {
	var b strings.Builder
	b.WriteString(string(status))
	b.WriteString("\n")
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	return b.String()
}

// hasTestMarkers reports whether stdout looks like a structured test report:
// either the tagged-line protocol or the legacy free-text convention with
// lines of the form "Test Case N: Passed|Failed".
func hasTestMarkers(stdout string) bool {
	if strings.Contains(stdout, markCase) && strings.Contains(stdout, markResult) {
		return true
	}
	for _, line := range strings.Split(stdout, "\n") {
		if isLegacyResultLine(line) {
			return true
		}
	}
	return false
}

func isLegacyResultLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "Test Case ") {
		return false
	}
	return strings.HasSuffix(trimmed, ": Passed") || strings.HasSuffix(trimmed, ": Failed")
}

// parseTestCases extracts discrete test-case records from stdout. Tagged
// blocks take precedence; the legacy convention is parsed only when no
// tagged block exists.
func parseTestCases(stdout string) []TestCase {
	if strings.Contains(stdout, markCase) {
		return parseTagged(stdout)
	}
	return parseLegacy(stdout)
}

func parseTagged(stdout string) []TestCase {
	var cases []TestCase
	var cur *TestCase
	var section *string
	var buf []string

	flushSection := func() {
		if cur == nil || section == nil {
			buf = buf[:0]
			return
		}
		*section = strings.Join(buf, "\n")
		section = nil
		buf = buf[:0]
	}

	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, markCase):
			flushSection()
			idx := 0
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, markCase))); err == nil {
				idx = n
			}
			cases = append(cases, TestCase{Index: idx})
			cur = &cases[len(cases)-1]
		case trimmed == markInput && cur != nil:
			flushSection()
			section = &cur.Input
		case trimmed == markOutput && cur != nil:
			flushSection()
			section = &cur.ActualOutput
		case trimmed == markExpected && cur != nil:
			flushSection()
			section = &cur.ExpectedOutput
		case strings.HasPrefix(trimmed, markResult) && cur != nil:
			flushSection()
			verdict := strings.TrimSpace(strings.TrimPrefix(trimmed, markResult))
			cur.Passed = strings.EqualFold(verdict, "Passed")
		case trimmed == markEnd:
			flushSection()
			cur = nil
		default:
			if section != nil {
				buf = append(buf, line)
			}
		}
	}
	flushSection()

	// Assign sequential indexes when the wrapper did not number cases.
	for i := range cases {
		if cases[i].Index == 0 {
			cases[i].Index = i + 1
		}
	}
	return cases
}

func parseLegacy(stdout string) []TestCase {
	var cases []TestCase
	var cur *TestCase
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if isLegacyResultLine(trimmed) {
			rest := strings.TrimPrefix(trimmed, "Test Case ")
			numEnd := strings.Index(rest, ":")
			idx := len(cases) + 1
			if numEnd > 0 {
				if n, err := strconv.Atoi(rest[:numEnd]); err == nil {
					idx = n
				}
			}
			cases = append(cases, TestCase{
				Index:  idx,
				Passed: strings.HasSuffix(trimmed, ": Passed"),
			})
			cur = &cases[len(cases)-1]
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "Input:"):
			cur.Input = strings.TrimSpace(strings.TrimPrefix(trimmed, "Input:"))
		case strings.HasPrefix(trimmed, "Output:"):
			cur.ActualOutput = strings.TrimSpace(strings.TrimPrefix(trimmed, "Output:"))
		case strings.HasPrefix(trimmed, "Expected:"):
			cur.ExpectedOutput = strings.TrimSpace(strings.TrimPrefix(trimmed, "Expected:"))
		}
	}
	return cases
}

func (f *Formatter) renderTestReport(cases []TestCase, header string, res job.ExecutionResult) Report {
	summary := Summary{Total: len(cases)}
	hiddenFailed := 0
	for i := range cases {
		cases[i].Visible = i < f.VisibleCount
		if cases[i].Visible {
			summary.VisibleCount++
		} else {
			summary.HiddenCount++
		}
		if cases[i].Passed {
			summary.Passed++
		} else {
			summary.Failed++
			if !cases[i].Visible {
				hiddenFailed++
			}
		}
		if !cases[i].Visible {
			// Hidden test content must never leave the formatter, even
			// inside the structured record.
			cases[i].Input = ""
			cases[i].ActualOutput = ""
			cases[i].ExpectedOutput = ""
		}
	}

	status := StatusAllPassed
	if summary.Failed > 0 {
		status = StatusTestFailures
	}

	var b strings.Builder
	b.WriteString(string(status))
	b.WriteString("\n")
	b.WriteString(header)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%d/%d test cases passed\n", summary.Passed, summary.Total)

	for _, tc := range cases {
		if !tc.Visible {
			continue
		}
		verdict := "Failed"
		if tc.Passed {
			verdict = "Passed"
		}
		fmt.Fprintf(&b, "\nTest Case %d: %s\n", tc.Index, verdict)
		fmt.Fprintf(&b, "  Input:    %s\n", indentTail(tc.Input))
		fmt.Fprintf(&b, "  Output:   %s\n", indentTail(tc.ActualOutput))
		fmt.Fprintf(&b, "  Expected: %s\n", indentTail(tc.ExpectedOutput))
	}

	if summary.HiddenCount > 0 {
		b.WriteString("\n")
		if hiddenFailed > 0 {
			fmt.Fprintf(&b, "%d of %d hidden tests failed\n", hiddenFailed, summary.HiddenCount)
		} else {
			fmt.Fprintf(&b, "All %d hidden tests passed\n", summary.HiddenCount)
		}
	}

	return Report{
		Status:  status,
		Body:    b.String(),
		Cases:   cases,
		Summary: summary,
		Time:    res.Time,
		Memory:  res.Memory,
	}
}

// indentTail keeps multi-line values aligned under their label.
func indentTail(s string) string {
	return strings.ReplaceAll(s, "\n", "\n            ")
}
