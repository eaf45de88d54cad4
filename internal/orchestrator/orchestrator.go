// Package orchestrator wires the retrieval, planning, generation,
// post-processing, repair and evaluation stages together into the
// per-project pipeline run (C11), mirroring the teacher's CLI-driven
// run loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/stcodegen/internal/compiler"
	"github.com/ChamsBouzaiene/stcodegen/internal/corpus"
	"github.com/ChamsBouzaiene/stcodegen/internal/evaluator"
	"github.com/ChamsBouzaiene/stcodegen/internal/generator"
	"github.com/ChamsBouzaiene/stcodegen/internal/library"
	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
	"github.com/ChamsBouzaiene/stcodegen/internal/planner"
	"github.com/ChamsBouzaiene/stcodegen/internal/postprocess"
	"github.com/ChamsBouzaiene/stcodegen/internal/query"
	"github.com/ChamsBouzaiene/stcodegen/internal/repair"
	"github.com/ChamsBouzaiene/stcodegen/internal/retriever"
)

// Config controls one orchestrator run across one or more projects.
type Config struct {
	OutputRoot string // defaults to "output"
	ResultDir  string // defaults to a fresh uuid under OutputRoot
	Projects   []model.Project

	SkipRetrieve bool
	SkipPlan     bool
	SkipGenerate bool
	SkipFix      bool

	TopK           int // retrieval depth, default 5
	MaxVerifyCount int // repair iterations, default 3
	NumSamples     int // generation samples, default 1

	Endpoint        string // CODESYS compile endpoint base URL
	ReferenceRoot   string // ground-truth root for evaluation, per project subdir
	CodeBLEULang    string // default "python" (matches the external tool's --lang flag)
	LibraryIndexDir string // doc snippets for the library recommender

	LLMClient llm.Client
	LLMConfig llm.Config
	Tokenizer llm.Tokenizer
	Compiler  compiler.Client
	Embedder  retriever.Embedder
}

func (cfg *Config) applyDefaults() {
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "output"
	}
	if cfg.ResultDir == "" {
		cfg.ResultDir = uuid.Must(uuid.NewV7()).String()
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.MaxVerifyCount == 0 {
		cfg.MaxVerifyCount = 3
	}
	if cfg.NumSamples == 0 {
		cfg.NumSamples = 1
	}
	if cfg.CodeBLEULang == "" {
		cfg.CodeBLEULang = "python"
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = llm.NewTokenizer()
	}
}

// RunDir returns the root directory a run's artifacts are written under.
func (cfg Config) RunDir() string {
	return filepath.Join(cfg.OutputRoot, cfg.ResultDir)
}

// Run executes the pipeline for every configured project, continuing to
// the next project when one fails, and returns a RunReport summarizing
// every project's outcome (§4.11).
func Run(ctx context.Context, cfg Config) (model.RunReport, error) {
	cfg.applyDefaults()

	report := model.RunReport{Projects: make(map[string]model.ProjectRunResult, len(cfg.Projects))}
	evalResults := make(map[string]model.ProjectEvaluation, len(cfg.Projects))

	for _, proj := range cfg.Projects {
		start := time.Now()
		stageDurations := make(map[string]int64)
		result, pe, err := runProject(ctx, cfg, proj, stageDurations)
		result.DurationMS = time.Since(start).Milliseconds()
		result.StageDurationsMS = stageDurations
		if err != nil {
			log.Printf("orchestrator: project %s failed: %v", proj.Name, err)
		} else {
			evalResults[proj.Name] = pe
		}
		report.Projects[proj.Name] = result
	}

	if err := writeRunReport(cfg, report, evalResults); err != nil {
		return report, err
	}
	return report, nil
}

func runProject(ctx context.Context, cfg Config, proj model.Project, stageDurations map[string]int64) (model.ProjectRunResult, model.ProjectEvaluation, error) {
	projectDir := filepath.Join(cfg.RunDir(), proj.Name)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return model.ProjectRunResult{Status: "failed", FailedStep: "setup"}, model.ProjectEvaluation{}, err
	}

	cases, queries, corpusDocs, err := stageRetrieve(ctx, cfg, proj, projectDir, stageDurations)
	if err != nil {
		return model.ProjectRunResult{Status: "failed", FailedStep: "retrieve"}, model.ProjectEvaluation{}, err
	}

	plans := stagePlan(ctx, cfg, proj, projectDir, cases, stageDurations)

	readfulDir, err := stageGenerate(ctx, cfg, proj, projectDir, cases, queries, corpusDocs, plans, stageDurations)
	if err != nil {
		return model.ProjectRunResult{Status: "failed", FailedStep: "generate"}, model.ProjectEvaluation{}, err
	}

	if err := stageRepair(ctx, cfg, projectDir, readfulDir, stageDurations); err != nil {
		return model.ProjectRunResult{Status: "failed", FailedStep: "repair"}, model.ProjectEvaluation{}, err
	}

	if err := stageNoProvide(readfulDir, filepath.Join(projectDir, "readful_result_no_provide"), cases); err != nil {
		return model.ProjectRunResult{Status: "failed", FailedStep: "no_provide"}, model.ProjectEvaluation{}, err
	}

	pe, err := stageEvaluate(ctx, cfg, proj, projectDir, readfulDir, stageDurations)
	if err != nil {
		return model.ProjectRunResult{Status: "failed", FailedStep: "evaluate"}, model.ProjectEvaluation{}, err
	}

	return model.ProjectRunResult{Status: "success"}, pe, nil
}

// stageRetrieve builds the BEIR dataset (corpus + queries + qrels) for the
// project and, unless retrieval is skipped, runs dense retrieval and
// writes results.jsonl with the top-k docs inlined per query (§4.1-§4.3).
func stageRetrieve(ctx context.Context, cfg Config, proj model.Project, projectDir string, stageDurations map[string]int64) ([]model.Case, []model.Query, []model.CorpusDocument, error) {
	t0 := time.Now()
	defer func() { stageDurations["retrieve"] = time.Since(t0).Milliseconds() }()

	corpusDocs, err := corpus.Build(corpus.BuildConfig{ProjectRoot: proj.Root, ProjectName: proj.Name})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("orchestrator: building corpus for %s: %w", proj.Name, err)
	}
	if len(corpusDocs) == 0 {
		return nil, nil, nil, fmt.Errorf("orchestrator: corpus for %s is empty (no .st documents under %s)", proj.Name, proj.Root)
	}
	if err := corpus.WriteJSONL(filepath.Join(projectDir, "corpus.jsonl"), corpusDocs); err != nil {
		return nil, nil, nil, err
	}

	cases, queries, err := buildQueries(proj)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := query.WriteJSONL(filepath.Join(projectDir, "queries.jsonl"), queries); err != nil {
		return nil, nil, nil, err
	}
	corpusIDs := make([]string, len(corpusDocs))
	for i, d := range corpusDocs {
		corpusIDs[i] = d.ID
	}
	qrelsDir := filepath.Join(projectDir, "qrels")
	if err := os.MkdirAll(qrelsDir, 0o755); err != nil {
		return nil, nil, nil, err
	}
	if err := query.WriteQrels(filepath.Join(qrelsDir, "test.tsv"), queries, corpusIDs); err != nil {
		return nil, nil, nil, err
	}

	if cfg.SkipRetrieve || len(queries) == 0 || len(corpusDocs) == 0 {
		return cases, queries, corpusDocs, nil
	}

	lexical, err := retriever.NewLexicalIndex(filepath.Join(projectDir, "lexical.bleve"))
	if err != nil {
		log.Printf("orchestrator: lexical index unavailable for %s, retrieving dense-only: %v", proj.Name, err)
		lexical = nil
	} else {
		defer lexical.Close()
	}

	cache, err := retriever.OpenCache(ctx, filepath.Join(projectDir, "embed_cache.db"))
	if err != nil {
		log.Printf("orchestrator: embedding cache unavailable for %s, retrieving uncached: %v", proj.Name, err)
		cache = nil
	} else {
		defer cache.Close()
	}

	r := retriever.New(cfg.Embedder, lexical, cache)
	results, err := r.Retrieve(ctx, queries, corpusDocs)
	if err != nil {
		log.Printf("orchestrator: retrieval failed for %s, continuing without retrieved context: %v", proj.Name, err)
		return cases, queries, corpusDocs, nil
	}
	if err := writeRetrievalResults(filepath.Join(projectDir, "results.jsonl"), results, corpusDocs, cfg.TopK); err != nil {
		return nil, nil, nil, err
	}

	return cases, queries, corpusDocs, nil
}

func buildQueries(proj model.Project) ([]model.Case, []model.Query, error) {
	var cases []model.Case
	var queries []model.Query
	idx := 0
	err := filepath.Walk(proj.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".st") {
			return nil
		}
		i := idx
		c, q, err := query.BuildQueryFromFile(proj.Name, proj.Root, path, &i)
		if err != nil {
			log.Printf("orchestrator: skipping %s: %v", path, err)
			return nil
		}
		cases = append(cases, c)
		queries = append(queries, q)
		idx++
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: walking %s for queries: %w", proj.Root, err)
	}
	return cases, queries, nil
}

func writeRetrievalResults(path string, results map[string]model.RetrievalResult, corpusDocs []model.CorpusDocument, topK int) error {
	textByID := make(map[string]string, len(corpusDocs))
	for _, d := range corpusDocs {
		textByID[d.ID] = d.Text
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("orchestrator: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for queryID, res := range results {
		top := retriever.TopK(res, topK)
		type inlineDoc struct {
			DocID string  `json:"doc_id"`
			Score float64 `json:"score"`
			Text  string  `json:"text"`
		}
		docs := make([]inlineDoc, len(top.Docs))
		for i, d := range top.Docs {
			docs[i] = inlineDoc{DocID: d.DocID, Score: d.Score, Text: textByID[d.DocID]}
		}
		record := struct {
			QueryID string      `json:"query_id"`
			Docs    []inlineDoc `json:"docs"`
		}{QueryID: queryID, Docs: docs}
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("orchestrator: encoding retrieval result for %s: %w", queryID, err)
		}
	}
	return nil
}

// stagePlan runs the Planner for each case, persisting both the prompt
// and the raw plan text; a planning failure is logged and that case
// simply proceeds without a plan (§4.4, non-fatal per spec).
func stagePlan(ctx context.Context, cfg Config, proj model.Project, projectDir string, cases []model.Case, stageDurations map[string]int64) map[string]planner.Result {
	t0 := time.Now()
	defer func() { stageDurations["plan"] = time.Since(t0).Milliseconds() }()

	plans := make(map[string]planner.Result, len(cases))
	if cfg.SkipPlan {
		return plans
	}

	planResultsDir := filepath.Join(projectDir, "plan_results")
	planPromptsDir := filepath.Join(projectDir, "plan_prompts")
	_ = os.MkdirAll(planResultsDir, 0o755)
	_ = os.MkdirAll(planPromptsDir, 0o755)

	for _, c := range cases {
		res, err := planner.Plan(ctx, cfg.LLMClient, cfg.LLMConfig, c, filepath.Dir(proj.Root), proj.Name)
		if err != nil {
			log.Printf("orchestrator: planning failed for %s/%s: %v", proj.Name, c.FunctionName, err)
			continue
		}
		plans[c.FunctionName] = res
		_ = os.WriteFile(filepath.Join(planResultsDir, c.FunctionName+".txt"), []byte(res.PlanText), 0o644)
		_ = os.WriteFile(filepath.Join(planPromptsDir, c.FunctionName+".txt"), []byte(res.UserPrompt), 0o644)
	}
	return plans
}

// stageGenerate runs the Generator for each case and post-processes every
// candidate into readful_result/ (§4.5-§4.6). Returns the readful_result
// directory path.
func stageGenerate(ctx context.Context, cfg Config, proj model.Project, projectDir string, cases []model.Case, queries []model.Query, corpusDocs []model.CorpusDocument, plans map[string]planner.Result, stageDurations map[string]int64) (string, error) {
	t0 := time.Now()
	defer func() { stageDurations["generate"] = time.Since(t0).Milliseconds() }()

	readfulDir := filepath.Join(projectDir, "readful_result")
	if err := os.MkdirAll(readfulDir, 0o755); err != nil {
		return "", err
	}
	if cfg.SkipGenerate {
		return readfulDir, nil
	}

	textByID := make(map[string]string, len(corpusDocs))
	for _, d := range corpusDocs {
		textByID[d.ID] = d.Text
	}

	promptDir := filepath.Join(projectDir, "prompt")
	if err := os.MkdirAll(promptDir, 0o755); err != nil {
		return "", err
	}

	generations := make(map[string]generator.Result, len(cases))
	references := make(map[string]string, len(cases))

	for _, c := range cases {
		req := generator.Request{
			Case:           c,
			RetrievedTexts: textByID,
			PlanText:       plans[c.FunctionName].PlanText,
			NumSamples:     cfg.NumSamples,
		}
		res, err := generator.Generate(ctx, cfg.LLMClient, cfg.LLMConfig, cfg.Tokenizer, req)
		if err != nil {
			log.Printf("orchestrator: generation failed for %s/%s: %v", proj.Name, c.FunctionName, err)
			continue
		}
		generations[c.FunctionName] = res
		references[c.FunctionName] = c.GroundTruth
		_ = os.WriteFile(filepath.Join(promptDir, c.FunctionName+".txt"), []byte(res.UserPrompt), 0o644)

		processed := postprocess.ProcessAll(c, res.Candidates)
		for fileName, code := range processed {
			if err := os.WriteFile(filepath.Join(readfulDir, fileName), []byte(code), 0o644); err != nil {
				return "", fmt.Errorf("orchestrator: writing %s: %w", fileName, err)
			}
		}
	}

	if err := writeGenerationsAndReferences(projectDir, proj.Name, generations, references); err != nil {
		return "", err
	}
	return readfulDir, nil
}

func writeGenerationsAndReferences(projectDir, projectName string, generations map[string]generator.Result, references map[string]string) error {
	genData, err := json.MarshalIndent(generations, "", "  ")
	if err != nil {
		return err
	}
	fileName := fmt.Sprintf("generations_%s_%s.json", projectName, projectName)
	if err := os.WriteFile(filepath.Join(projectDir, fileName), genData, 0o644); err != nil {
		return err
	}

	refData, err := json.MarshalIndent(references, "", "  ")
	if err != nil {
		return err
	}
	refFileName := fmt.Sprintf("generations_%s_references.json", projectName)
	return os.WriteFile(filepath.Join(projectDir, refFileName), refData, 0o644)
}

// stageRepair runs the auto-repair loop over every .st file produced by
// generation, backing up the pre-repair original on first modification
// (§4.9, §6.1).
func stageRepair(ctx context.Context, cfg Config, projectDir, readfulDir string, stageDurations map[string]int64) error {
	t0 := time.Now()
	defer func() { stageDurations["repair"] = time.Since(t0).Milliseconds() }()

	if cfg.SkipFix || cfg.Compiler == nil {
		return nil
	}

	entries, err := os.ReadDir(readfulDir)
	if err != nil {
		return fmt.Errorf("orchestrator: reading %s: %w", readfulDir, err)
	}

	var libIdx *library.Index
	if cfg.LibraryIndexDir != "" {
		libIdx, _ = library.LoadIndex(cfg.LibraryIndexDir)
	}

	backupDir := filepath.Join(projectDir, "readful_result_before_fix")
	historyDir := filepath.Join(projectDir, "readful_result_history")

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".st") {
			continue
		}
		filePath := filepath.Join(readfulDir, e.Name())
		original, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(backupDir, e.Name()), original, 0o644); err != nil {
			return err
		}

		blockName := strings.TrimSuffix(e.Name(), ".st")
		opts := repair.Options{
			FilePath:       filePath,
			ProjectPath:    readfulDir,
			BlockName:      blockName,
			MaxVerifyCount: cfg.MaxVerifyCount,
			Endpoint:       cfg.Endpoint,
			HistoryDir:     historyDir,
			LibraryIndex:   libIdx,
		}
		if _, err := repair.AutoFix(ctx, cfg.Compiler, cfg.LLMClient, cfg.LLMConfig, opts); err != nil {
			log.Printf("orchestrator: repair failed for %s: %v", blockName, err)
		}
	}
	return nil
}

// stageNoProvide writes a variant of readful_result/ with each file's
// provide_code prefix stripped, for downstream tooling that only wants
// the generated body (§6.1).
func stageNoProvide(readfulDir, noProvideDir string, cases []model.Case) error {
	entries, err := os.ReadDir(readfulDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(noProvideDir, 0o755); err != nil {
		return err
	}

	provideByName := make(map[string]string, len(cases))
	for _, c := range cases {
		provideByName[c.FunctionName] = c.ProvideCode
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".st") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(readfulDir, e.Name()))
		if err != nil {
			return err
		}
		blockName := strings.TrimSuffix(e.Name(), ".st")
		blockName = strings.SplitN(blockName, "_cand", 2)[0]
		body := string(data)
		if provide, ok := provideByName[blockName]; ok && strings.HasPrefix(body, provide) {
			body = strings.TrimPrefix(body, provide)
		}
		if err := os.WriteFile(filepath.Join(noProvideDir, e.Name()), []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// stageEvaluate computes per-file and aggregate CodeBLEU scores against a
// reference root and persists the project-level report (§4.10).
func stageEvaluate(ctx context.Context, cfg Config, proj model.Project, projectDir, readfulDir string, stageDurations map[string]int64) (model.ProjectEvaluation, error) {
	t0 := time.Now()
	defer func() { stageDurations["evaluate"] = time.Since(t0).Milliseconds() }()

	if cfg.ReferenceRoot == "" {
		return model.ProjectEvaluation{Project: proj.Name}, nil
	}
	referenceDir := filepath.Join(cfg.ReferenceRoot, proj.Name)
	pe, err := evaluator.EvaluateProject(ctx, proj.Name, readfulDir, referenceDir, cfg.CodeBLEULang)
	if err != nil {
		return model.ProjectEvaluation{}, fmt.Errorf("orchestrator: evaluating %s: %w", proj.Name, err)
	}
	if err := evaluator.WriteReport(filepath.Join(projectDir, "codebleu_evaluation.json"), pe); err != nil {
		return model.ProjectEvaluation{}, err
	}
	return pe, nil
}

// writeRunReport persists both run-level artifacts named in §6.1/§4.11:
// a timestamped evaluation_summary_{ts}.json (the RunReport) and an
// evaluation_results.json aggregating every project's CodeBLEU report.
func writeRunReport(cfg Config, report model.RunReport, evalResults map[string]model.ProjectEvaluation) error {
	if err := os.MkdirAll(cfg.RunDir(), 0o755); err != nil {
		return err
	}

	reportData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	summaryName := fmt.Sprintf("evaluation_summary_%d.json", time.Now().Unix())
	if err := os.WriteFile(filepath.Join(cfg.RunDir(), summaryName), reportData, 0o644); err != nil {
		return err
	}

	evalData, err := json.MarshalIndent(evalResults, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cfg.RunDir(), "evaluation_results.json"), evalData, 0o644)
}
