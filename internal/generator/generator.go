// Package generator assembles the generation prompt, calls the LLM, and
// persists candidate code and artifacts (C5).
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

const generatorSystemPrompt = `You are an expert CODESYS Structured Text (IEC 61131-3) developer. ` +
	`Output only Structured Text, with no markdown headings. You may define local VAR blocks. ` +
	`You must NOT modify the given VAR_INPUT, VAR_OUTPUT, or VAR_IN_OUT declarations. ` +
	`Use RETURN; only inside a FUNCTION body. Wrap your entire answer in a single triple-backtick ` +
	`code block. Never emit a METHOD when the target is a FUNCTION or FUNCTION_BLOCK.`

// fewShotUser/fewShotAssistant prime the output-format convention; see §4.5 ("source
// convention; semantically acts as a format-priming shot").
const fewShotUser = "Continue writing the following code:\n\n```\ndef noop():\n```"
const fewShotAssistant = "```\n    return None\n```"

// Request bundles everything the Generator needs for one case.
type Request struct {
	Case           model.Case
	RetrievedDocs  []model.ScoredDoc
	RetrievedTexts map[string]string // doc_id -> text, for docs named in RetrievedDocs
	PlanText       string
	MaxInputTokens int // default 2048 when zero
	NumSamples     int // default 1 when zero
}

// Result is the Generator's output for one case.
type Result struct {
	Candidates []string
	UserPrompt string
}

// Generate assembles the system/few-shot/user prompt, calls the LLM with
// linear-backoff retry, and returns every requested candidate (§4.5).
func Generate(ctx context.Context, client llm.Client, cfg llm.Config, tok llm.Tokenizer, req Request) (Result, error) {
	maxInput := req.MaxInputTokens
	if maxInput == 0 {
		maxInput = 2048
	}
	numSamples := req.NumSamples
	if numSamples == 0 {
		numSamples = 1
	}

	basePrompt := buildBasePrompt(req.Case, req.RetrievedDocs, req.RetrievedTexts)
	basePrompt = tok.Truncate(basePrompt, maxInput)

	userContent := buildUserContent(req.Case, req.PlanText, basePrompt)

	messages := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: generatorSystemPrompt},
		{Role: llm.RoleUser, Name: "example_user", Content: fewShotUser},
		{Role: llm.RoleAssistant, Name: "example_assistant", Content: fewShotAssistant},
		{Role: llm.RoleUser, Content: userContent},
	}

	candidates := make([]string, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		reply, err := llm.RetryWithLinearBackoff(ctx, cfg.RetryCount, cfg.RetryBackoff, func(ctx context.Context) (llm.Response, error) {
			return client.Chat(ctx, cfg.Model, messages, llm.ChatOptions{
				Temperature:     cfg.Temperature,
				TopP:            cfg.TopP,
				MaxOutputTokens: cfg.MaxTokens,
			})
		})
		if err != nil {
			return Result{}, fmt.Errorf("generator: LLM call failed for %s: %w", req.Case.FunctionName, err)
		}
		candidates = append(candidates, reply.Content)
	}

	return Result{Candidates: candidates, UserPrompt: userContent}, nil
}

// buildBasePrompt renders the retrieved docs as commented context blocks
// placed before the declaration stub (Open Question resolution, see
// DESIGN.md: comments preserve "visible before the stub" without risking
// the LLM echoing retrieved text back as part of the declaration).
func buildBasePrompt(c model.Case, docs []model.ScoredDoc, texts map[string]string) string {
	var sb strings.Builder
	for _, d := range docs {
		text, ok := texts[d.DocID]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		sb.WriteString("(* retrieved context *)\n")
		for _, line := range strings.Split(text, "\n") {
			sb.WriteString("(* " + line + " *)\n")
		}
	}
	sb.WriteString(c.ProvideCode)
	return sb.String()
}

func buildUserContent(c model.Case, planText, basePrompt string) string {
	var sb strings.Builder
	if c.Requirement != "" {
		fmt.Fprintf(&sb, "This is the known requirement information for the function to be completed:\n%s\n\n", c.Requirement)
	}
	if planText != "" {
		fmt.Fprintf(&sb, "This provides you with a plan for the implementation. The following is the plan of implementation steps:\n%s\n\n", planText)
	}
	fmt.Fprintf(&sb, "Continue writing the following code:\n\n```\n%s\n```", basePrompt)
	return sb.String()
}
