package compiler

import (
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

// Normalize converts the raw wire errors into absolute-line CompileErrors
// against stCode (§4.7's error normalization rules).
func Normalize(raw model.RawCompileResponse, stCode string) model.CompileResponse {
	lines := strings.Split(strings.ReplaceAll(stCode, "\r\n", "\n"), "\n")
	implBase := findImplementationBase(lines)

	errs := make([]model.CompileError, 0, len(raw.Errors))
	for _, re := range raw.Errors {
		errType := model.ErrorTypeImplementation
		base := implBase
		if re.IsDef {
			errType = model.ErrorTypeDeclaration
			base = 0
		}
		absLine := base + re.Path

		lineContent := ""
		if absLine >= 0 && absLine < len(lines) {
			lineContent = lines[absLine]
		}

		errs = append(errs, model.CompileError{
			ErrorDesc:   re.ErrorDesc,
			ErrorType:   errType,
			LineNo:      absLine,
			LineContent: lineContent,
			CodeWindow:  codeWindow(lines, absLine, 3),
		})
	}

	return model.CompileResponse{Success: raw.Success, Result: raw.Result, Errors: errs}
}

// findImplementationBase locates the first BEGIN line; failing that, the
// line after the last END_VAR.
func findImplementationBase(lines []string) int {
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), "BEGIN") {
			return i
		}
	}
	lastEndVar := -1
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), "END_VAR") {
			lastEndVar = i
		}
	}
	if lastEndVar >= 0 {
		return lastEndVar + 1
	}
	return 0
}

// codeWindow renders ±radius lines around line (0-based), each prefixed
// with its 1-based line number padded to 4 characters.
func codeWindow(lines []string, line, radius int) string {
	if line < 0 || line >= len(lines) {
		return ""
	}
	start := line - radius
	if start < 0 {
		start = 0
	}
	end := line + radius
	if end >= len(lines) {
		end = len(lines) - 1
	}
	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%4d %s\n", i+1, lines[i])
	}
	return strings.TrimRight(sb.String(), "\n")
}
