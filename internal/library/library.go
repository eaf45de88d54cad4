// Package library recommends CODESYS library documentation snippets for
// compile errors, for optional inclusion in the repair prompt (C8).
package library

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

// symbolPatterns are applied in order against each error description; the
// first capture group is the candidate symbol name.
var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Function\s+['"]?([A-Za-z_][A-Za-z0-9_]*)['"]?.*requires exactly`),
	regexp.MustCompile(`(?i)is no input of\s+Function\s+['"]?([A-Za-z_][A-Za-z0-9_]*)['"]?`),
	regexp.MustCompile(`Function\s+'([A-Za-z_][A-Za-z0-9_]*)'`),
	regexp.MustCompile(`Function\s+"([A-Za-z_][A-Za-z0-9_]*)"`),
	regexp.MustCompile(`object\s+([A-Za-z_][A-Za-z0-9_]*)`),
}

var funcCallPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// Recommendation is one (symbol name, documentation text) pairing.
type Recommendation struct {
	Name string
	Doc  string
}

// ExtractSymbolNames applies the ordered symbol patterns against each
// error's description, then the funcCallPattern against each error's
// LineContent, deduplicating while preserving first-occurrence order.
func ExtractSymbolNames(errs []model.CompileError) []string {
	seen := make(map[string]bool)
	var ordered []string

	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		ordered = append(ordered, name)
	}

	for _, e := range errs {
		for _, pat := range symbolPatterns {
			for _, m := range pat.FindAllStringSubmatch(e.ErrorDesc, -1) {
				add(m[1])
			}
		}
	}
	for _, e := range errs {
		if strings.TrimSpace(e.LineContent) == "" {
			continue
		}
		for _, m := range funcCallPattern.FindAllStringSubmatch(e.LineContent, -1) {
			add(m[1])
		}
	}
	return ordered
}

// Index maps a library documentation directory for lookup by symbol name.
type Index struct {
	pathByName map[string]string
}

// LoadIndex scans dir for documentation files and builds a name -> path
// index. A file named "Foo (Method).txt" is indexed under both
// "Foo (Method)" and "Foo".
func LoadIndex(dir string) (*Index, error) {
	idx := &Index{pathByName: make(map[string]string)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		base, _, found := strings.Cut(stem, " (")
		path := filepath.Join(dir, entry.Name())
		if _, ok := idx.pathByName[stem]; !ok {
			idx.pathByName[stem] = path
		}
		if found {
			if _, ok := idx.pathByName[base]; !ok {
				idx.pathByName[base] = path
			}
		}
	}
	return idx, nil
}

// Recommend extracts candidate symbol names from errs and resolves each
// against the index, returning only the ones that hit a documentation file.
func Recommend(idx *Index, errs []model.CompileError) ([]Recommendation, error) {
	var recs []Recommendation
	for _, name := range ExtractSymbolNames(errs) {
		path, ok := idx.pathByName[name]
		if !ok {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		recs = append(recs, Recommendation{Name: name, Doc: string(content)})
	}
	return recs, nil
}
