package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

type fakeClient struct {
	calls    int
	failures int
	reply    string
	err      error
}

func (f *fakeClient) Chat(ctx context.Context, modelName string, messages []llm.ChatMessage, opts llm.ChatOptions) (llm.Response, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.reply}, nil
}

type heuristicTok struct{}

func (heuristicTok) CountTokens(text string) int           { return llm.EstimateTokens(text) }
func (heuristicTok) Truncate(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

func TestGenerate_HappyPath(t *testing.T) {
	client := &fakeClient{reply: "```st\nnCount := nCount + 1;\n```"}
	req := Request{
		Case: model.Case{
			FunctionName: "FB_Counter",
			Requirement:  "Increment nCount on each call.",
			ProvideCode:  "FUNCTION_BLOCK FB_Counter\nVAR_INPUT\n\tbEnable : BOOL;\nEND_VAR\n",
		},
		RetrievedDocs:  []model.ScoredDoc{{DocID: "d1", Score: 0.9}},
		RetrievedTexts: map[string]string{"d1": "nX := nX + 1;"},
		PlanText:       "功能规划:\n1. increment",
	}

	result, err := Generate(context.Background(), client, llm.DefaultConfig(), heuristicTok{}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(result.Candidates))
	}
	if !strings.Contains(result.UserPrompt, "Increment nCount") {
		t.Error("prompt should include the requirement")
	}
	if !strings.Contains(result.UserPrompt, "功能规划") {
		t.Error("prompt should include the plan text")
	}
	if !strings.Contains(result.UserPrompt, "retrieved context") {
		t.Error("prompt should render retrieved docs as commented context")
	}
	if client.calls != 1 {
		t.Errorf("expected exactly 1 LLM call, got %d", client.calls)
	}
}

func TestGenerate_MultipleSamples(t *testing.T) {
	client := &fakeClient{reply: "```\nx := 1;\n```"}
	req := Request{
		Case:       model.Case{FunctionName: "Foo", ProvideCode: "FUNCTION Foo : INT\n"},
		NumSamples: 3,
	}
	result, err := Generate(context.Background(), client, llm.DefaultConfig(), heuristicTok{}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(result.Candidates))
	}
	if client.calls != 3 {
		t.Errorf("expected 3 LLM calls, got %d", client.calls)
	}
}

func TestGenerate_RetriesOnTransientErrorThenSucceeds(t *testing.T) {
	client := &fakeClient{reply: "```\nx := 1;\n```", failures: 1, err: errTimeout{}}
	cfg := llm.DefaultConfig()
	cfg.RetryBackoff = 0 // avoid real sleep in the test
	req := Request{Case: model.Case{FunctionName: "Foo", ProvideCode: "FUNCTION Foo : INT\n"}}

	result, err := Generate(context.Background(), client, cfg, heuristicTok{}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected candidate after retry, got %d", len(result.Candidates))
	}
	if client.calls != 2 {
		t.Errorf("expected 2 calls (1 failure + 1 success), got %d", client.calls)
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "connection timeout" }
