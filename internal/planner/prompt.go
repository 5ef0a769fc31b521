package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jkaninda/mpango/internal/tools"
)

// plannerSystemPrompt instructs the LLM to answer with exactly one
// plan script in the restricted language the sandbox accepts.
const plannerSystemPrompt = `You are the planning module of Mpango, an orchestration engine that executes
your plan inside a restricted script sandbox.

Respond with ONE executable plan script and nothing else, inside a fenced code block.

The script language is a small Python subset:
- Statements: assignment (including +=, -=, *=, /=), if/elif/else, while, for, def, return, pass, break, continue.
- Literals: numbers, strings, booleans, None, lists, and dicts with string keys.
- Expressions: arithmetic, comparison, boolean logic, unary minus/not, indexing, slicing, conditional expressions.
- The ONLY builtin functions available: len, range, str, int, float, bool, abs, min, max,
  sum, sorted, round, enumerate, zip, keys, values, items, append, format, print.
- No imports, no attribute access (use keys(d), values(d), items(d), append(lst, x) instead
  of method calls), no builtins beyond the list above. Anything else is rejected before
  the script runs.
- Assign the final output to the variable named result.

Tools are called like functions, positionally or with keyword arguments. Only the tools
listed below exist; calling any other name fails the run.`

// buildSystemPrompt renders the system prompt with the tool catalog.
// Descriptions are passed through verbatim; the planner sees exactly
// what tool authors wrote.
func buildSystemPrompt(catalog []tools.Spec) string {
	var b strings.Builder
	b.WriteString(plannerSystemPrompt)
	b.WriteString("\n\n## Available Tools\n")
	for _, spec := range catalog {
		fmt.Fprintf(&b, "\n### %s\n%s\n", spec.Name, spec.Description)
		if len(spec.Parameters) > 0 {
			if params, err := json.MarshalIndent(spec.Parameters, "", "  "); err == nil {
				fmt.Fprintf(&b, "Parameters:\n%s\n", params)
			}
		}
	}
	return b.String()
}

// buildUserPrompt wraps the feature description as the single user turn.
func buildUserPrompt(feature string) string {
	var b strings.Builder
	b.WriteString("Write the plan script for the following feature.\n\n")
	b.WriteString("## Feature\n")
	b.WriteString(strings.TrimSpace(feature))
	b.WriteString("\n")
	return b.String()
}
