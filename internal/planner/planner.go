package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
	"github.com/ChamsBouzaiene/stcodegen/internal/promptkit"
)

const planSystemPrompt = `You are a senior IEC 61131-3 / CODESYS architect. You design precise, ` +
	`minimal implementation plans for Structured Text functions and function blocks, grounded strictly ` +
	`in the variables and call-site context you are given.`

// Result is the Planner's output: the raw LLM plan text plus the prompt
// that produced it (both are persisted by the Orchestrator per §6.1).
type Result struct {
	PlanText   string
	UserPrompt string
}

// Plan builds the context-collection + LLM plan-prompt pipeline for a case
// and returns the raw plan text (§4.4).
func Plan(ctx context.Context, client llm.Client, cfg llm.Config, c model.Case, projectCodeRoot, projectName string) (Result, error) {
	contexts, err := CollectContexts(projectCodeRoot, projectName, c.FunctionName, c.FunctionType, DefaultContextWindowSize)
	if err != nil {
		return Result{}, err
	}

	userPrompt := buildUserPrompt(c, projectName, contexts)

	messages := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: planSystemPrompt},
		{Role: llm.RoleUser, Content: userPrompt},
	}

	resp, err := client.Chat(ctx, cfg.Model, messages, llm.ChatOptions{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("planner: LLM call failed: %w", err)
	}

	return Result{PlanText: resp.Content, UserPrompt: userPrompt}, nil
}

func buildUserPrompt(c model.Case, projectName string, contexts []model.ContextWindow) string {
	b := promptkit.New()
	b.Add(fmt.Sprintf("Project: %s\nFunction name: %s\nFunction type: %s", projectName, c.FunctionName, c.FunctionType))
	b.AddIf(c.Requirement != "", "Requirement:\n"+c.Requirement)
	b.Add("Declaration stub:\n```\n" + c.ProvideCode + "\n```")

	if len(contexts) > 0 {
		var sb strings.Builder
		sb.WriteString("Call-site context collected elsewhere in the project:\n")
		for i, w := range contexts {
			fmt.Fprintf(&sb, "\n[context %d] %s (line %d)\n```\n%s\n```\n", i+1, w.FilePath, w.LineNumber, w.CodeWindow)
		}
		b.Add(sb.String())
	}

	b.Add("Produce a numbered plan of 3 to 6 steps, written in Chinese, focused strictly on " +
		"execution logic. Reference variable names from the stub and the call-site context above. " +
		"Do not write any code. Do not add commentary beyond the steps themselves. " +
		"Begin your reply with the line \"功能规划:\" followed by the numbered steps.")

	return b.Build()
}
