package initializer

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/thruflo/autocoder/internal/state"
)

// Strategy extracts a task list from a model reply. Extract returns false
// when the reply does not yield a valid, non-empty list.
type Strategy struct {
	Name    string
	Extract func(text string) ([]state.NewTask, bool)
}

// Strategies are tried in order; the first success wins.
var Strategies = []Strategy{
	{Name: "fenced_json", Extract: FencedJSON},
	{Name: "whole_json", Extract: WholeJSON},
	{Name: "line_pattern", Extract: LinePattern},
}

// Extract runs the strategies in order and returns the tasks and the name
// of the strategy that produced them.
func Extract(text string) ([]state.NewTask, string, error) {
	tried := make([]string, 0, len(Strategies))
	for _, s := range Strategies {
		if tasks, ok := s.Extract(text); ok {
			return tasks, s.Name, nil
		}
		tried = append(tried, s.Name)
	}
	return nil, "", &AnalysisError{Strategies: tried}
}

// breakdownTask is the JSON shape of one task in a breakdown.
type breakdownTask struct {
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Priority           json.RawMessage `json:"priority"`
	Phase              json.RawMessage `json:"phase"`
	AcceptanceCriteria []string        `json:"acceptance_criteria"`
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n(.*?)```")

// FencedJSON parses the first fenced code block that holds a breakdown.
func FencedJSON(text string) ([]state.NewTask, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if tasks, ok := parseBreakdown(m[1]); ok {
			return tasks, true
		}
	}
	return nil, false
}

// WholeJSON parses the reply as JSON, trimming any prose around the
// outermost array or object.
func WholeJSON(text string) ([]state.NewTask, bool) {
	if tasks, ok := parseBreakdown(text); ok {
		return tasks, true
	}
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start {
			if tasks, ok := parseBreakdown(text[start : end+1]); ok {
				return tasks, true
			}
		}
	}
	return nil, false
}

// parseBreakdown accepts a bare array of tasks or an object with a "tasks"
// array.
func parseBreakdown(s string) ([]state.NewTask, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	var items []breakdownTask
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		var wrapped struct {
			Tasks []breakdownTask `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
			return nil, false
		}
		items = wrapped.Tasks
	}
	if len(items) == 0 {
		return nil, false
	}

	tasks := make([]state.NewTask, 0, len(items))
	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			return nil, false
		}
		tasks = append(tasks, state.NewTask{
			Title:              title,
			Description:        strings.TrimSpace(it.Description),
			Priority:           looseInt(it.Priority),
			Phase:              looseString(it.Phase),
			AcceptanceCriteria: it.AcceptanceCriteria,
		})
	}
	return tasks, true
}

// looseInt reads a number that may arrive quoted.
func looseInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}

// looseString reads a phase given as a string or number.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

var (
	itemPattern      = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+(.+)$`)
	taggedPattern    = regexp.MustCompile(`^(\[[A-Za-z][A-Za-z0-9_]*-\d+\.\d+\].*)$`)
	criterionPattern = regexp.MustCompile(`^\s+(?:[-*+]|\d+[.)]|\[[ xX]?\])\s+(.+)$`)
)

// LinePattern recovers tasks from a plain list. Unindented bullets, numbered
// items and lines starting with a "[PREFIX-P.S]" tag are tasks; indented
// bullets under a task are its acceptance criteria. "Title - description"
// and "Title: description" are split when the title part is non-empty.
func LinePattern(text string) ([]state.NewTask, bool) {
	var tasks []state.NewTask
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		m := itemPattern.FindStringSubmatch(line)
		if m == nil {
			m = taggedPattern.FindStringSubmatch(line)
		}
		if m != nil {
			title, desc := splitItem(strings.Trim(m[1], "*_ "))
			if title == "" {
				continue
			}
			tasks = append(tasks, state.NewTask{Title: title, Description: desc})
			continue
		}
		if m := criterionPattern.FindStringSubmatch(line); m != nil && len(tasks) > 0 {
			last := &tasks[len(tasks)-1]
			last.AcceptanceCriteria = append(last.AcceptanceCriteria, strings.TrimSpace(m[1]))
		}
	}
	return tasks, len(tasks) > 0
}

var tagPrefix = regexp.MustCompile(`^\[[^\]]+\]\s*`)

func splitItem(item string) (string, string) {
	// A leading "[AUTH-1.1]" tag always stays in the title.
	tag := tagPrefix.FindString(item)
	rest := item[len(tag):]
	for _, sep := range []string{" - ", " \u2014 ", ": "} {
		if i := strings.Index(rest, sep); i > 0 {
			return strings.TrimSpace(tag + rest[:i]), strings.TrimSpace(rest[i+len(sep):])
		}
	}
	return strings.TrimSpace(item), ""
}
