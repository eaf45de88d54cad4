// Package evaluator scores generated ST against reference code with
// CodeBLEU, aggregating per-project results (C10).
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

// codeBLEUToolPathEnv names the external CodeBLEU CLI tool invoked when
// set. The tool is invoked as `<tool> --lang <lang>`, receives a JSON object
// with "candidate" and "reference" code fields on stdin, and is expected to
// print a JSON object with the CodeBLEU scores on stdout.
const codeBLEUToolPathEnv = "CODEBLEU_TOOL_PATH"

// subscoreWeights are CodeBLEU's standard equal weighting.
const (
	ngramWeight         = 0.25
	weightedNgramWeight = 0.25
	syntaxWeight        = 0.25
	dataflowWeight      = 0.25
)

// Evaluate scores candidateCode against referenceCode. lang is passed
// through to the external tool verbatim; ST has no CodeBLEU grammar, so
// callers pass "python" as a known lossy approximation. When no external
// tool is configured, an in-process n-gram-only approximation is used
// instead (ngram_match only; the other three subscores are reported as 0,
// and codebleu is just ngram_match rather than the full weighted blend).
func Evaluate(ctx context.Context, candidateCode, referenceCode, lang string) (model.EvaluationResult, error) {
	if toolPath := os.Getenv(codeBLEUToolPathEnv); toolPath != "" {
		result, err := evaluateExternal(ctx, toolPath, candidateCode, referenceCode, lang)
		if err == nil {
			return result, nil
		}
	}
	return evaluateNgramFallback(candidateCode, referenceCode), nil
}

func evaluateExternal(ctx context.Context, toolPath, candidateCode, referenceCode, lang string) (model.EvaluationResult, error) {
	cmd := exec.CommandContext(ctx, toolPath, "--lang", lang)
	stdin, err := json.Marshal(map[string]string{"candidate": candidateCode, "reference": referenceCode})
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("evaluator: marshal request: %w", err)
	}
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return model.EvaluationResult{}, fmt.Errorf("evaluator: external tool failed: %w", err)
	}

	var result model.EvaluationResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return model.EvaluationResult{}, fmt.Errorf("evaluator: decode tool output: %w", err)
	}
	result.ReferenceLength = len(tokenize(referenceCode))
	result.PredictionLength = len(tokenize(candidateCode))
	return result, nil
}

// evaluateNgramFallback approximates CodeBLEU's ngram_match subscore with
// a BLEU-4-style geometric mean of 1..4-gram precisions, used when no
// external CodeBLEU tool is configured. The other three subscores
// (weighted_ngram_match, syntax_match, dataflow_match) require a tree-sitter
// grammar this implementation does not vendor, so they report 0.
func evaluateNgramFallback(candidateCode, referenceCode string) model.EvaluationResult {
	candTokens := tokenize(candidateCode)
	refTokens := tokenize(referenceCode)

	ngram := bleuNgramScore(candTokens, refTokens, 4)

	return model.EvaluationResult{
		CodeBLEU:           ngram,
		NgramMatch:         ngram,
		WeightedNgramMatch: 0,
		SyntaxMatch:        0,
		DataflowMatch:      0,
		ReferenceLength:    len(refTokens),
		PredictionLength:   len(candTokens),
	}
}

func tokenize(code string) []string {
	fields := strings.FieldsFunc(code, func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	return fields
}

// bleuNgramScore computes a geometric mean of n-gram precisions (n=1..maxN)
// with a length brevity penalty, the same shape as standard BLEU.
func bleuNgramScore(candidate, reference []string, maxN int) float64 {
	if len(candidate) == 0 {
		return 0
	}
	logSum := 0.0
	validN := 0
	for n := 1; n <= maxN; n++ {
		candGrams := ngramCounts(candidate, n)
		refGrams := ngramCounts(reference, n)
		if len(candGrams) == 0 {
			continue
		}
		match := 0
		total := 0
		for gram, count := range candGrams {
			total += count
			if refCount, ok := refGrams[gram]; ok {
				if refCount < count {
					match += refCount
				} else {
					match += count
				}
			}
		}
		if total == 0 {
			continue
		}
		precision := float64(match) / float64(total)
		if precision == 0 {
			return 0
		}
		logSum += math.Log(precision)
		validN++
	}
	if validN == 0 {
		return 0
	}
	score := math.Exp(logSum / float64(validN))

	brevity := 1.0
	if len(candidate) < len(reference) && len(reference) > 0 {
		brevity = math.Exp(1.0 - float64(len(reference))/float64(len(candidate)))
	}
	return score * brevity
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	if len(tokens) < n {
		return counts
	}
	for i := 0; i+n <= len(tokens); i++ {
		key := strings.Join(tokens[i:i+n], " ")
		counts[key]++
	}
	return counts
}

// ProjectResult matches codebleu_evaluation.json's shape.
type ProjectResult = model.ProjectEvaluation

// EvaluateProject iterates readfulResultDir, matching each *.st file by
// stem against a reference under referenceRoot, and aggregates scores.
func EvaluateProject(ctx context.Context, project, readfulResultDir, referenceRoot, lang string) (ProjectResult, error) {
	entries, err := os.ReadDir(readfulResultDir)
	if err != nil {
		return ProjectResult{}, fmt.Errorf("evaluator: read %s: %w", readfulResultDir, err)
	}

	perFile := make(map[string]model.EvaluationResult)
	var sum model.EvaluationResult
	successful := 0

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".st" {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ".st")
		refPath := filepath.Join(referenceRoot, stem+".st")

		refBytes, err := os.ReadFile(refPath)
		if err != nil {
			continue
		}
		candBytes, err := os.ReadFile(filepath.Join(readfulResultDir, entry.Name()))
		if err != nil {
			continue
		}

		result, err := Evaluate(ctx, string(candBytes), string(refBytes), lang)
		if err != nil {
			continue
		}
		perFile[stem] = result
		sum.CodeBLEU += result.CodeBLEU
		sum.NgramMatch += result.NgramMatch
		sum.WeightedNgramMatch += result.WeightedNgramMatch
		sum.SyntaxMatch += result.SyntaxMatch
		sum.DataflowMatch += result.DataflowMatch
		successful++
	}

	average := model.EvaluationResult{}
	if successful > 0 {
		n := float64(successful)
		average = model.EvaluationResult{
			CodeBLEU:           sum.CodeBLEU / n,
			NgramMatch:         sum.NgramMatch / n,
			WeightedNgramMatch: sum.WeightedNgramMatch / n,
			SyntaxMatch:        sum.SyntaxMatch / n,
			DataflowMatch:      sum.DataflowMatch / n,
		}
	}

	return ProjectResult{
		Project:               project,
		PerFile:               perFile,
		Average:               average,
		SuccessfulEvaluations: successful,
	}, nil
}

// WriteReport persists pe as codebleu_evaluation.json at path.
func WriteReport(path string, pe ProjectResult) error {
	data, err := json.MarshalIndent(pe, "", "  ")
	if err != nil {
		return fmt.Errorf("evaluator: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("evaluator: write report %s: %w", path, err)
	}
	return nil
}
