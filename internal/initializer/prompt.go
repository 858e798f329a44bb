package initializer

import (
	"fmt"
)

// AnalysisSystemPrompt frames the single analysis call.
const AnalysisSystemPrompt = `You are planning the implementation of a software project from its specification.
Break the work into small tasks that can each be finished and verified in one focused session.
Group tasks into phases; every task in a phase may depend on all earlier phases.
Do not write any code.`

// AnalysisPrompt asks for the breakdown in the format the extractors read.
func AnalysisPrompt(projectName, spec string) string {
	prefix := TitlePrefix(projectName)
	return fmt.Sprintf(`Project: %s

Specification:

%s

Reply with the task breakdown as a fenced json block holding an array of tasks:

`+"```json"+`
[
  {
    "title": "[%s-1.1] Short imperative title",
    "description": "What to build and where",
    "priority": 1,
    "acceptance_criteria": ["Observable, testable outcome"]
  }
]
`+"```"+`

Number titles [%s-<phase>.<sequence>], starting at 1.1. Priority 1 is most urgent.`,
		projectName, spec, prefix, prefix)
}
