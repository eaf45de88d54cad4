// Package query builds retrieval/generation queries (C2) from ST source
// files by splitting a declaration stub from its implementation body.
package query

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

var (
	headerRe = regexp.MustCompile(`(?i)^\s*(FUNCTION_BLOCK|FUNCTION|METHOD)\s+(PUBLIC\s+)?([A-Za-z_][A-Za-z0-9_]*)`)
	varRe    = regexp.MustCompile(`^VAR\s*$`)
)

// FunctionInfo is the header parsed from an ST file.
type FunctionInfo struct {
	Name string
	Type model.FunctionType
}

// ExtractFunctionInfo finds the first FUNCTION_BLOCK / FUNCTION / METHOD
// header line, tolerating an optional PUBLIC modifier on FUNCTION_BLOCK,
// and returns its name and type. Returns an error if no header is found.
func ExtractFunctionInfo(content string) (FunctionInfo, error) {
	for _, line := range splitLines(content) {
		if m := headerRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			var ft model.FunctionType
			switch strings.ToUpper(m[1]) {
			case "FUNCTION_BLOCK":
				ft = model.FunctionTypeFunctionBlock
			case "FUNCTION":
				ft = model.FunctionTypeFunction
			case "METHOD":
				ft = model.FunctionTypeMethod
			}
			return FunctionInfo{Name: m[3], Type: ft}, nil
		}
	}
	return FunctionInfo{}, fmt.Errorf("query: no FUNCTION_BLOCK/FUNCTION/METHOD header found")
}

func splitLines(content string) []string {
	return strings.Split(content, "\n")
}

// SplitDeclarationBoundary applies the three-rule declaration-boundary
// algorithm (§4.2): a bare "VAR" line (not VAR_INPUT/OUTPUT/IN_OUT/TEMP/
// EXTERNAL/GLOBAL) starts the body; failing that, the body starts after
// the last "END_VAR" line; failing that, provide_code is the whole file
// and the body is empty (the source's "keep all" case is resolved here as
// whole-file provide_code, matching how the original query generator
// actually renders it for display — see DESIGN.md).
// bodyLineIdx is the 0-based index of the first body line (len(lines) if
// the body is empty).
func SplitDeclarationBoundary(content string) (provideCode string, bodyLineIdx int) {
	lines := splitLines(content)

	for i, line := range lines {
		if varRe.MatchString(strings.TrimSpace(line)) {
			return strings.Join(lines[:i], "\n"), i
		}
	}

	lastEndVar := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "END_VAR" {
			lastEndVar = i
		}
	}
	if lastEndVar >= 0 {
		return strings.Join(lines[:lastEndVar+1], "\n"), lastEndVar + 1
	}

	return strings.Join(lines, "\n"), len(lines)
}

// BuildQuery constructs a Case and a Query from a single ST file's
// content. index selects the query _id format: when non-nil, the id is
// "{project}/{index}"; otherwise it is "{project}_{function}_query".
func BuildQuery(projectName, relPath, content string, index *int) (model.Case, model.Query, error) {
	info, err := ExtractFunctionInfo(content)
	if err != nil {
		return model.Case{}, model.Query{}, err
	}

	provideCode, bodyLineIdx := SplitDeclarationBoundary(content)
	groundTruth := strings.TrimSpace(content)

	c := model.Case{
		TaskID:       info.Name,
		FunctionName: info.Name,
		FunctionType: info.Type,
		ProvideCode:  strings.TrimSpace(provideCode),
		GroundTruth:  groundTruth,
	}

	var id string
	if index != nil {
		id = fmt.Sprintf("%s/%d", projectName, *index)
	} else {
		id = fmt.Sprintf("%s_%s_query", projectName, info.Name)
	}

	q := model.Query{
		ID:   id,
		Text: c.ProvideCode,
		Metadata: model.QueryMetadata{
			TaskID:       c.TaskID,
			GroundTruth:  groundTruth,
			FpathTuple:   [2]string{projectName, relPath},
			FunctionName: info.Name,
			FunctionType: string(info.Type),
			LineNo:       bodyLineIdx + 1,
		},
	}

	return c, q, nil
}

// BuildQueryFromFile reads path and delegates to BuildQuery.
func BuildQueryFromFile(projectName, projectRoot, path string, index *int) (model.Case, model.Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Case{}, model.Query{}, fmt.Errorf("query: reading %s: %w", path, err)
	}
	relPath := strings.TrimPrefix(strings.TrimPrefix(path, projectRoot), "/")
	return BuildQuery(projectName, relPath, string(data), index)
}

// WriteJSONL writes queries as BEIR queries.jsonl.
func WriteJSONL(path string, queries []model.Query) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("query: creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, q := range queries {
		if err := enc.Encode(q); err != nil {
			return fmt.Errorf("query: encoding %s: %w", q.ID, err)
		}
	}
	return nil
}

// WriteQrels writes qrels/test.tsv: header "query-id\tcorpus-id\tscore",
// score=1 for every corpus doc whose _id contains the query's function
// name (used as the filename stem).
func WriteQrels(path string, queries []model.Query, corpusIDs []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("query: creating %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	buf.WriteString("query-id\tcorpus-id\tscore\n")
	for _, q := range queries {
		stem := q.Metadata.FunctionName
		for _, docID := range corpusIDs {
			if strings.Contains(docID, stem) {
				fmt.Fprintf(&buf, "%s\t%s\t1\n", q.ID, docID)
			}
		}
	}
	_, err = f.Write(buf.Bytes())
	return err
}
