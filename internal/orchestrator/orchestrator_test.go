package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
	"github.com/ChamsBouzaiene/stcodegen/internal/retriever"
)

type fakeLLM struct{ calls int }

func (f *fakeLLM) Chat(ctx context.Context, m string, msgs []llm.ChatMessage, opts llm.ChatOptions) (llm.Response, error) {
	f.calls++
	return llm.Response{Content: "```\nnOut := nIn + 1;\nEND_FUNCTION\n```"}, nil
}

type fakeCompiler struct{}

func (fakeCompiler) SyntaxCheck(ctx context.Context, projectPath, blockName, stCode, endpoint string) (model.CompileResponse, error) {
	return model.CompileResponse{Success: true}, nil
}

const sampleFunction = `FUNCTION Add : INT
VAR_INPUT
	nIn : INT;
END_VAR
VAR
END_VAR

nOut := nIn;
END_FUNCTION
`

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Add.st"), []byte(sampleFunction), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestRun_HappyPath_ProducesReadfulResultAndReport(t *testing.T) {
	projectRoot := writeProject(t)
	outputRoot := t.TempDir()

	cfg := Config{
		OutputRoot: outputRoot,
		ResultDir:  "run1",
		Projects:   []model.Project{{Name: "demo", Root: projectRoot}},
		SkipRetrieve: true,
		SkipPlan:     true,
		LLMClient:    &fakeLLM{},
		LLMConfig:    llm.DefaultConfig(),
		Compiler:     fakeCompiler{},
	}

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pr, ok := report.Projects["demo"]
	if !ok {
		t.Fatal("expected a report entry for project demo")
	}
	if pr.Status != "success" {
		t.Errorf("status = %q, want success (failed step %q)", pr.Status, pr.FailedStep)
	}

	readfulDir := filepath.Join(outputRoot, "run1", "demo", "readful_result")
	entries, err := os.ReadDir(readfulDir)
	if err != nil {
		t.Fatalf("readful_result not created: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected at least one generated file in readful_result")
	}

	matches, err := filepath.Glob(filepath.Join(outputRoot, "run1", "evaluation_summary_*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly one timestamped evaluation_summary file, got %v (err=%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("run report not written: %v", err)
	}
	var decoded model.RunReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("run report is not valid JSON: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outputRoot, "run1", "evaluation_results.json")); err != nil {
		t.Errorf("evaluation_results.json not written: %v", err)
	}
}

func TestRun_ContinuesToNextProjectAfterFailure(t *testing.T) {
	badRoot := filepath.Join(t.TempDir(), "does-not-exist")
	goodRoot := writeProject(t)
	outputRoot := t.TempDir()

	cfg := Config{
		OutputRoot:   outputRoot,
		ResultDir:    "run2",
		Projects:     []model.Project{{Name: "bad", Root: badRoot}, {Name: "good", Root: goodRoot}},
		SkipRetrieve: true,
		SkipPlan:     true,
		LLMClient:    &fakeLLM{},
		LLMConfig:    llm.DefaultConfig(),
		Compiler:     fakeCompiler{},
	}

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if report.Projects["bad"].Status != "failed" {
		t.Errorf("expected bad project to be marked failed, got %+v", report.Projects["bad"])
	}
	if report.Projects["good"].Status != "success" {
		t.Errorf("expected good project to still succeed, got %+v", report.Projects["good"])
	}
}

func TestConfig_RunDir_UsesResultDirUnderOutputRoot(t *testing.T) {
	cfg := Config{OutputRoot: "output", ResultDir: "abc"}
	if got, want := cfg.RunDir(), filepath.Join("output", "abc"); got != want {
		t.Errorf("RunDir() = %q, want %q", got, want)
	}
}

func TestStageNoProvide_StripsProvideCodePrefix(t *testing.T) {
	dir := t.TempDir()
	readful := filepath.Join(dir, "readful_result")
	noProvide := filepath.Join(dir, "readful_result_no_provide")
	if err := os.MkdirAll(readful, 0o755); err != nil {
		t.Fatal(err)
	}

	provide := "FUNCTION Add : INT\nVAR_INPUT\n\tnIn : INT;\nEND_VAR\n"
	full := provide + "nOut := nIn;\nEND_FUNCTION\n"
	if err := os.WriteFile(filepath.Join(readful, "Add.st"), []byte(full), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []model.Case{{FunctionName: "Add", ProvideCode: provide}}
	if err := stageNoProvide(readful, noProvide, cases); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(noProvide, "Add.st"))
	if err != nil {
		t.Fatalf("expected stripped file to be written: %v", err)
	}
	if string(data) != "nOut := nIn;\nEND_FUNCTION\n" {
		t.Errorf("got %q, want body with provide_code prefix stripped", string(data))
	}
}

func TestWriteRetrievalResults_RespectsTopK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.jsonl")

	results := map[string]model.RetrievalResult{
		"q1": {
			QueryID: "q1",
			Docs: []model.ScoredDoc{
				{DocID: "d1", Score: 0.9},
				{DocID: "d2", Score: 0.8},
				{DocID: "d3", Score: 0.7},
			},
		},
	}
	docs := []model.CorpusDocument{
		{ID: "d1", Text: "one"},
		{ID: "d2", Text: "two"},
		{ID: "d3", Text: "three"},
	}

	if err := writeRetrievalResults(path, results, docs, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var record struct {
		QueryID string `json:"query_id"`
		Docs    []struct {
			DocID string `json:"doc_id"`
		} `json:"docs"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if len(record.Docs) != 2 {
		t.Errorf("expected top-2 docs, got %d", len(record.Docs))
	}
}

var _ retriever.Embedder = (*retriever.NoOpEmbedder)(nil)
