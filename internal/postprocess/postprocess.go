// Package postprocess extracts fenced code from raw LLM output and wraps it
// back into a complete, compilable ST file (C6).
package postprocess

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

var fenceTagRe = regexp.MustCompile(`(?i)^(st|structuredtext)\s*\n`)

// ExtractFence returns the text between the first and second triple-backtick
// markers. If no closing fence is found, everything after the opening fence
// is returned. If there is no fence at all, the whole text is returned.
// In every case line endings are normalized and surrounding whitespace is
// trimmed.
func ExtractFence(raw string) string {
	text := normalizeLineEndings(raw)
	first := strings.Index(text, "```")
	if first == -1 {
		return strings.TrimSpace(text)
	}
	rest := text[first+3:]
	rest = fenceTagRe.ReplaceAllString(rest, "")
	second := strings.Index(rest, "```")
	if second == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:second])
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// EndMarker picks END_FUNCTION_BLOCK or END_FUNCTION based on a
// case-insensitive search of provideCode, FUNCTION_BLOCK checked first.
func EndMarker(provideCode string) string {
	upper := strings.ToUpper(provideCode)
	if strings.Contains(upper, "FUNCTION_BLOCK") {
		return "END_FUNCTION_BLOCK"
	}
	return "END_FUNCTION"
}

// Assemble builds the final file contents: provide_code, blank line, body,
// the end marker (unless the body already ends with it). If body already
// begins with provideCode (e.g. it is itself an already-assembled file fed
// back in), the duplicate prefix is stripped first so reprocessing is
// idempotent.
func Assemble(provideCode, body string) string {
	trimmedProvide := strings.TrimRight(provideCode, "\n")
	body = strings.TrimRight(body, "\n")
	if strings.HasPrefix(strings.TrimSpace(body), strings.TrimSpace(trimmedProvide)) {
		body = strings.TrimPrefix(strings.TrimSpace(body), strings.TrimSpace(trimmedProvide))
		body = strings.TrimLeft(body, "\n")
		body = strings.TrimRight(body, "\n")
	}
	marker := EndMarker(provideCode)
	if strings.HasSuffix(strings.TrimSpace(body), marker) {
		return trimmedProvide + "\n\n" + body + "\n"
	}
	return trimmedProvide + "\n\n" + body + "\n" + marker + "\n"
}

// CandidateFileName returns the readful_result file name for the idx-th
// (1-based) candidate of a case: "{name}.st" for the first, "{name}_cand{n}.st"
// for the rest.
func CandidateFileName(functionName string, idx int) string {
	if idx <= 1 {
		return functionName + ".st"
	}
	return fmt.Sprintf("%s_cand%d.st", functionName, idx)
}

// Process turns one raw LLM candidate into the final readful_result file
// contents for case c.
func Process(c model.Case, rawCandidate string) string {
	body := ExtractFence(rawCandidate)
	return Assemble(c.ProvideCode, body)
}

// ProcessAll processes every candidate for a case and returns a map of
// relative file name -> final file contents, ready to be written under
// readful_result/.
func ProcessAll(c model.Case, rawCandidates []string) map[string]string {
	out := make(map[string]string, len(rawCandidates))
	for i, raw := range rawCandidates {
		body := ExtractFence(raw)
		if strings.TrimSpace(body) == "" {
			continue
		}
		out[CandidateFileName(c.FunctionName, i+1)] = Assemble(c.ProvideCode, body)
	}
	return out
}
