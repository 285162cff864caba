// Package guard implements the prompt-injection guard that sits between an
// LLM-chosen tool call and its real side effects. The guard is stateless and
// pure: it inspects serialized tool arguments and never modifies them.
package guard

import (
	"strings"
)

// Verdict is the result of running Check against a tool call's arguments.
type Verdict struct {
	Safe   bool
	Reason string
}

// phraseRules are case-insensitive substrings that, found anywhere in the
// serialized arguments, block the call outright.
var phraseRules = []string{
	"ignore previous instructions",
	"disregard the above",
}

// shellMetaTokens mirror the dangerous-token table used across the pack for
// shell-command analysis, scoped here to arguments outside run_command.
var shellMetaTokens = []string{";", "&&", "||", "$(", "`"}

// Check inspects the JSON-serialized arguments of a tool call named
// toolName and field-by-field argument values, and reports whether the
// invocation is safe to execute.
//
// argsJSON is the serialized JSON of the full argument object. pathArgs
// holds the values of any argument fields conventionally named "path" (or
// ending in "_path"); shell metacharacters are only disallowed there, and
// only when toolName is not itself "run_command" (which is expected to
// contain shell syntax and is gated by approval instead, per §4.5).
func Check(toolName string, argsJSON string, pathArgs []string) Verdict {
	lower := strings.ToLower(argsJSON)

	for _, phrase := range phraseRules {
		if strings.Contains(lower, phrase) {
			return Verdict{Safe: false, Reason: "blocked phrase: " + phrase}
		}
	}

	if looksLikeNestedToolCall(argsJSON) {
		return Verdict{Safe: false, Reason: "nested tool-call shape detected in argument string"}
	}

	if toolName != "run_command" {
		for _, p := range pathArgs {
			if tok, ok := containsShellMeta(p); ok {
				return Verdict{Safe: false, Reason: "shell metacharacter " + tok + " in path argument"}
			}
		}
	}

	return Verdict{Safe: true}
}

// looksLikeNestedToolCall detects a `"tool":` ... `"args":` shape nested
// inside a string field, which indicates the LLM echoed (or was tricked
// into echoing) a tool-call structure inside what should be plain content —
// a classic prompt-in-output injection vector.
func looksLikeNestedToolCall(argsJSON string) bool {
	lower := strings.ToLower(argsJSON)
	toolIdx := strings.Index(lower, `"tool":`)
	if toolIdx == -1 {
		toolIdx = strings.Index(lower, `\"tool\":`)
	}
	if toolIdx == -1 {
		return false
	}
	rest := lower[toolIdx:]
	return strings.Contains(rest, `"args":`) || strings.Contains(rest, `\"args\":`)
}

// containsShellMeta reports the first shell metacharacter sequence found in s.
func containsShellMeta(s string) (string, bool) {
	for _, tok := range shellMetaTokens {
		if strings.Contains(s, tok) {
			return tok, true
		}
	}
	return "", false
}
