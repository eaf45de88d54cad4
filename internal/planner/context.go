// Package planner collects cross-file call-site context for a Case and
// drives the LLM plan-generation call (C4).
package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

// DefaultContextWindowSize is the number of lines collected on each side of
// a call site (§4.4).
const DefaultContextWindowSize = 10

var headerDefRe = func(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^\s*(FUNCTION_BLOCK|FUNCTION|METHOD)\s+` + regexp.QuoteMeta(name) + `\b`)
}

func definesFunction(lines []string, name string) bool {
	re := headerDefRe(name)
	for _, line := range lines {
		if re.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

func findInstanceDeclarations(lines []string, functionName string) map[string]bool {
	instances := make(map[string]bool)
	pattern := regexp.MustCompile(`(?i)(\w+):` + regexp.QuoteMeta(functionName) + `;`)
	spaceRe := regexp.MustCompile(`\s+`)
	for _, line := range lines {
		compact := spaceRe.ReplaceAllString(line, "")
		if m := pattern.FindStringSubmatch(compact); m != nil {
			instances[m[1]] = true
		}
	}
	return instances
}

func findCallPositions(lines []string, name string, excludeMethodCall bool) []int {
	callRe := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\s*\(`)
	methodRe := regexp.MustCompile(`(?i)\.\s*` + regexp.QuoteMeta(name) + `\s*\(`)
	var positions []int
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !callRe.MatchString(trimmed) {
			continue
		}
		if excludeMethodCall && methodRe.MatchString(trimmed) {
			continue
		}
		positions = append(positions, i)
	}
	return positions
}

func windowAround(lines []string, callLine, size int) model.ContextWindow {
	start := callLine - size
	if start < 0 {
		start = 0
	}
	end := callLine + size + 1
	if end > len(lines) {
		end = len(lines)
	}
	surrounding := append([]string(nil), lines[start:end]...)
	return model.ContextWindow{
		LineNumber:       callLine + 1,
		ContextType:      model.ContextTypeCall,
		CodeWindow:       strings.Join(surrounding, "\n"),
		SurroundingLines: surrounding,
	}
}

// CollectContexts recursively scans every .st file under
// projectCodeRoot/projectName, skipping files that define functionName,
// and extracts ±windowSize-line windows around every call site.
func CollectContexts(projectCodeRoot, projectName, functionName string, functionType model.FunctionType, windowSize int) ([]model.ContextWindow, error) {
	if windowSize <= 0 {
		windowSize = DefaultContextWindowSize
	}
	projectDir := filepath.Join(projectCodeRoot, projectName)
	info, err := os.Stat(projectDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("planner: project directory does not exist: %s", projectDir)
	}

	var contexts []model.ContextWindow

	err = filepath.WalkDir(projectDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".st") {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		lines := strings.Split(string(data), "\n")

		if definesFunction(lines, functionName) {
			return nil
		}

		relPath, relErr := filepath.Rel(filepath.Dir(projectCodeRoot), path)
		if relErr != nil {
			relPath = path
		}

		switch functionType {
		case model.FunctionTypeFunctionBlock:
			for instance := range findInstanceDeclarations(lines, functionName) {
				for _, callLine := range findCallPositions(lines, instance, false) {
					w := windowAround(lines, callLine, windowSize)
					w.FilePath = relPath
					contexts = append(contexts, w)
				}
			}
		default: // FUNCTION and METHOD both use direct-call scanning
			for _, callLine := range findCallPositions(lines, functionName, true) {
				w := windowAround(lines, callLine, windowSize)
				w.FilePath = relPath
				contexts = append(contexts, w)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("planner: scanning %s: %w", projectDir, err)
	}

	return contexts, nil
}
