package postprocess

import (
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

func TestExtractFence_Basic(t *testing.T) {
	raw := "Here you go:\n```st\nnCount := nCount + 1;\n```\nHope that helps."
	got := ExtractFence(raw)
	want := "nCount := nCount + 1;"
	if got != want {
		t.Errorf("ExtractFence() = %q, want %q", got, want)
	}
}

func TestExtractFence_NoLanguageTag(t *testing.T) {
	raw := "```\nx := 1;\ny := 2;\n```"
	got := ExtractFence(raw)
	want := "x := 1;\ny := 2;"
	if got != want {
		t.Errorf("ExtractFence() = %q, want %q", got, want)
	}
}

func TestExtractFence_NoClosingFence(t *testing.T) {
	raw := "```st\nx := 1;"
	got := ExtractFence(raw)
	if got != "x := 1;" {
		t.Errorf("ExtractFence() = %q", got)
	}
}

func TestExtractFence_NoFenceAtAll(t *testing.T) {
	raw := "x := 1;\n"
	got := ExtractFence(raw)
	if got != "x := 1;" {
		t.Errorf("ExtractFence() = %q", got)
	}
}

func TestEndMarker(t *testing.T) {
	cases := []struct {
		provide string
		want    string
	}{
		{"FUNCTION_BLOCK FB_Counter\nVAR_INPUT\nEND_VAR\n", "END_FUNCTION_BLOCK"},
		{"function_block fb_counter\n", "END_FUNCTION_BLOCK"},
		{"FUNCTION Foo : INT\nVAR_INPUT\nEND_VAR\n", "END_FUNCTION"},
	}
	for _, c := range cases {
		if got := EndMarker(c.provide); got != c.want {
			t.Errorf("EndMarker(%q) = %q, want %q", c.provide, got, c.want)
		}
	}
}

func TestAssemble_AppendsMarkerWhenMissing(t *testing.T) {
	provide := "FUNCTION_BLOCK FB_Counter\nVAR_INPUT\n\tbEnable : BOOL;\nEND_VAR\n"
	body := "nCount := nCount + 1;"
	got := Assemble(provide, body)

	if !strings.HasPrefix(got, strings.TrimRight(provide, "\n")) {
		t.Error("assembled file should start with provide_code")
	}
	if !strings.HasSuffix(strings.TrimRight(got, "\n"), "END_FUNCTION_BLOCK") {
		t.Error("assembled file should end with END_FUNCTION_BLOCK")
	}
	if strings.Count(got, "END_FUNCTION_BLOCK") != 1 {
		t.Errorf("expected exactly one END_FUNCTION_BLOCK marker, got file: %q", got)
	}
}

func TestAssemble_DoesNotDuplicateExistingMarker(t *testing.T) {
	provide := "FUNCTION Foo : INT\nVAR_INPUT\nEND_VAR\n"
	body := "Foo := 1;\nEND_FUNCTION"
	got := Assemble(provide, body)

	if strings.Count(got, "END_FUNCTION") != 1 {
		t.Errorf("expected exactly one END_FUNCTION marker, got: %q", got)
	}
}

func TestAssemble_IdempotentOnAlreadyProcessedFile(t *testing.T) {
	provide := "FUNCTION Foo : INT\nVAR_INPUT\nEND_VAR\n"
	body := "Foo := 1;"
	first := Assemble(provide, body)

	// Feed the already-assembled file back in as if it were raw body text.
	second := Assemble(provide, first)

	if first != second {
		t.Errorf("Assemble is not idempotent:\nfirst:  %q\nsecond: %q", first, second)
	}
}

func TestCandidateFileName(t *testing.T) {
	if got := CandidateFileName("FB_Counter", 1); got != "FB_Counter.st" {
		t.Errorf("CandidateFileName(1) = %q", got)
	}
	if got := CandidateFileName("FB_Counter", 2); got != "FB_Counter_cand2.st" {
		t.Errorf("CandidateFileName(2) = %q", got)
	}
	if got := CandidateFileName("FB_Counter", 3); got != "FB_Counter_cand3.st" {
		t.Errorf("CandidateFileName(3) = %q", got)
	}
}

func TestProcessAll_SkipsEmptyCandidates(t *testing.T) {
	c := model.Case{
		FunctionName: "FB_Counter",
		ProvideCode:  "FUNCTION_BLOCK FB_Counter\nVAR_INPUT\nEND_VAR\n",
	}
	raw := []string{
		"```st\nnCount := nCount + 1;\n```",
		"```\n\n```",
		"```st\nnCount := nCount + 2;\n```",
	}
	files := ProcessAll(c, raw)
	if len(files) != 2 {
		t.Fatalf("expected 2 non-empty candidates, got %d: %v", len(files), files)
	}
	if _, ok := files["FB_Counter.st"]; !ok {
		t.Error("missing FB_Counter.st")
	}
	if _, ok := files["FB_Counter_cand3.st"]; !ok {
		t.Error("missing FB_Counter_cand3.st (index 2 was empty and skipped, index 3 keeps its original position)")
	}
}
