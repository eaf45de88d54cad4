// Package repair drives the compile-error-guided patch loop: compile,
// classify, patch, apply, snapshot, recompile, until clean or the iteration
// budget is exhausted (C9).
package repair

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/compiler"
	"github.com/ChamsBouzaiene/stcodegen/internal/library"
	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

const patchSystemPrompt = `You are repairing a CODESYS Structured Text (IEC 61131-3) compile failure. ` +
	`You are given the current code and the compiler's error list. Propose the minimum set of ` +
	`fixes that clears the listed errors without altering control logic unless strictly necessary. ` +
	`For each fix, copy the buggy segment verbatim into <code_segment> and give the full replacement ` +
	`inside <patch>. You may reason about cascading errors across multiple fixes. Respond only in ` +
	`the required format:

- Fix suggestion 1: <short description>
(1)
<code_segment>
...verbatim buggy code...
</code_segment>
<patch>
...replacement...
</patch>
(2) ...`

var patchPairRe = regexp.MustCompile(`(?s)<code_segment>(.*?)</code_segment>\s*<patch>(.*?)</patch>`)

// Result is auto_fix's contract: (final_code, success, iterations).
type Result struct {
	FinalCode  string
	Success    bool
	Iterations int
}

// Options configures one auto_fix run.
type Options struct {
	FilePath        string
	ProjectPath     string
	BlockName       string
	MaxVerifyCount  int
	Endpoint        string
	HistoryDir      string
	LibraryIndex    *library.Index // optional; nil disables recommendations
}

// AutoFix runs the COMPILE/CLASSIFY/PATCH/APPLY/SNAPSHOT state machine
// against a single candidate file. Iterations counts applied patches, not
// compile attempts, so a first-try clean compile reports 0.
func AutoFix(ctx context.Context, compilerClient compiler.Client, llmClient llm.Client, cfg llm.Config, opts Options) (Result, error) {
	code, err := os.ReadFile(opts.FilePath)
	if err != nil {
		return Result{}, fmt.Errorf("repair: read %s: %w", opts.FilePath, err)
	}
	current := string(code)

	var messages []llm.ChatMessage
	n := 0

	for {
		resp, err := compilerClient.SyntaxCheck(ctx, opts.ProjectPath, opts.BlockName, current, opts.Endpoint)
		if err != nil {
			return Result{FinalCode: current, Success: false, Iterations: n}, err
		}

		if resp.Success {
			return Result{FinalCode: current, Success: true, Iterations: n}, nil
		}
		if hasSystemError(resp.Errors) {
			return Result{FinalCode: current, Success: false, Iterations: n}, nil
		}
		if n >= opts.MaxVerifyCount {
			return Result{FinalCode: current, Success: false, Iterations: n}, nil
		}

		selected := selectErrorsForPrompt(resp.Errors)
		userContent := buildPatchPrompt(current, selected, opts.LibraryIndex)

		if len(messages) == 0 {
			messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: patchSystemPrompt})
		}
		messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: userContent})

		reply, err := llmClient.Chat(ctx, cfg.Model, messages, llm.ChatOptions{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			MaxOutputTokens: cfg.MaxTokens,
		})
		if err != nil {
			return Result{FinalCode: current, Success: false, Iterations: n}, fmt.Errorf("repair: LLM call failed: %w", err)
		}
		messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: reply.Content})

		pairs := ExtractPatches(reply.Content)
		current = ApplyPatches(current, pairs)

		if err := os.WriteFile(opts.FilePath, []byte(current), 0o644); err != nil {
			return Result{}, fmt.Errorf("repair: write %s: %w", opts.FilePath, err)
		}
		if err := snapshot(opts.HistoryDir, opts.BlockName, n, current); err != nil {
			return Result{}, err
		}
		n++
	}
}

// PatchPair is one (code_segment, patch) replacement instruction.
type PatchPair struct {
	Segment string
	Patch   string
}

// ExtractPatches parses the LLM reply for <code_segment>/<patch> pairs,
// trimming surrounding whitespace from each side.
func ExtractPatches(reply string) []PatchPair {
	matches := patchPairRe.FindAllStringSubmatch(reply, -1)
	pairs := make([]PatchPair, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, PatchPair{
			Segment: strings.TrimSpace(m[1]),
			Patch:   strings.TrimSpace(m[2]),
		})
	}
	return pairs
}

// ApplyPatches replaces the first occurrence of each segment with its
// patch, in the order the pairs were extracted. If no pairs are given, code
// is returned unchanged (a wasted iteration, per §4.9).
func ApplyPatches(code string, pairs []PatchPair) string {
	for _, p := range pairs {
		if p.Segment == "" {
			continue
		}
		code = strings.Replace(code, p.Segment, p.Patch, 1)
	}
	return code
}

func hasSystemError(errs []model.CompileError) bool {
	for _, e := range errs {
		if e.ErrorType == model.ErrorTypeSystem {
			return true
		}
	}
	return false
}

// selectErrorsForPrompt prefers Declaration Section Errors exclusively when
// any exist, since they commonly cascade into spurious Implementation
// errors; otherwise it returns all Implementation Section Errors.
func selectErrorsForPrompt(errs []model.CompileError) []model.CompileError {
	var decl, impl []model.CompileError
	for _, e := range errs {
		switch e.ErrorType {
		case model.ErrorTypeDeclaration:
			decl = append(decl, e)
		case model.ErrorTypeImplementation:
			impl = append(impl, e)
		}
	}
	if len(decl) > 0 {
		return decl
	}
	return impl
}

func buildPatchPrompt(code string, errs []model.CompileError, idx *library.Index) string {
	var sb strings.Builder
	sb.WriteString("Target platform: CODESYS (IEC 61131-3 Structured Text).\n\n")
	sb.WriteString("Current code:\n```\n")
	sb.WriteString(code)
	sb.WriteString("\n```\n\n")

	sb.WriteString("Compiler errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "[%s] (line %d) %s\n%s\n\n", e.ErrorType, e.LineNo, e.ErrorDesc, e.CodeWindow)
	}

	if idx != nil {
		recs, _ := library.Recommend(idx, errs)
		if len(recs) > 0 {
			sb.WriteString("Relevant library documentation:\n")
			for _, r := range recs {
				fmt.Fprintf(&sb, "### %s\n%s\n\n", r.Name, r.Doc)
			}
		}
	}

	sb.WriteString("<code_segment> must be a verbatim copy of buggy code from above; do not alter it. ")
	sb.WriteString("Do not change control logic unless strictly necessary to fix the listed errors.")
	return sb.String()
}

func snapshot(historyDir, blockName string, n int, code string) error {
	if historyDir == "" {
		return nil
	}
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return fmt.Errorf("repair: create history dir: %w", err)
	}
	path := filepath.Join(historyDir, fmt.Sprintf("%s_%d.st", blockName, n))
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("repair: write snapshot %s: %w", path, err)
	}
	return nil
}
