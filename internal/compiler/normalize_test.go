package compiler

import (
	"testing"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

const sampleST = `FUNCTION_BLOCK FB_Counter
VAR_INPUT
	bEnable : BOOL;
END_VAR
VAR
	nCount : INT;
END_VAR

nCount := nCount + 1;
IF bEnable THEN
	nCount := 0;
END_IF
END_FUNCTION_BLOCK
`

func TestNormalize_DeclarationError(t *testing.T) {
	raw := model.RawCompileResponse{
		Success: false,
		Errors:  []model.RawCompileError{{ErrorDesc: "undeclared type", IsDef: true, Path: 2}},
	}
	resp := Normalize(raw, sampleST)
	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(resp.Errors))
	}
	e := resp.Errors[0]
	if e.ErrorType != model.ErrorTypeDeclaration {
		t.Errorf("error_type = %v, want Declaration", e.ErrorType)
	}
	if e.LineNo != 2 {
		t.Errorf("line_no = %d, want 2 (relative to line 0 for IsDef)", e.LineNo)
	}
}

func TestNormalize_ImplementationError_BaseFromEndVar(t *testing.T) {
	// sampleST has no BEGIN line, so base resolves to the line after the
	// last END_VAR (0-based line 6 -> base 7).
	raw := model.RawCompileResponse{
		Success: false,
		Errors:  []model.RawCompileError{{ErrorDesc: "type mismatch", IsDef: false, Path: 1}},
	}
	resp := Normalize(raw, sampleST)
	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(resp.Errors))
	}
	e := resp.Errors[0]
	if e.ErrorType != model.ErrorTypeImplementation {
		t.Errorf("error_type = %v, want Implementation", e.ErrorType)
	}
	wantLine := 8 // base (7) + path (1)
	if e.LineNo != wantLine {
		t.Errorf("line_no = %d, want %d", e.LineNo, wantLine)
	}
	if e.LineContent == "" {
		t.Error("line_content should not be empty")
	}
}

func TestNormalize_ImplementationError_BaseFromBegin(t *testing.T) {
	code := "FUNCTION Foo : INT\nVAR_INPUT\n\tx : INT;\nEND_VAR\nBEGIN\nFoo := x + 1;\nEND_FUNCTION\n"
	raw := model.RawCompileResponse{
		Success: false,
		Errors:  []model.RawCompileError{{ErrorDesc: "bad expr", IsDef: false, Path: 1}},
	}
	resp := Normalize(raw, code)
	e := resp.Errors[0]
	// BEGIN is 0-based line 4; base=4, path=1 -> absolute line 5.
	if e.LineNo != 5 {
		t.Errorf("line_no = %d, want 5", e.LineNo)
	}
}

func TestNormalize_CodeWindowPadding(t *testing.T) {
	raw := model.RawCompileResponse{
		Success: false,
		Errors:  []model.RawCompileError{{ErrorDesc: "x", IsDef: true, Path: 0}},
	}
	resp := Normalize(raw, sampleST)
	window := resp.Errors[0].CodeWindow
	if len(window) == 0 {
		t.Fatal("expected non-empty code window")
	}
	if window[:4] != "   1" {
		t.Errorf("expected 4-char padded line number prefix, got %q", window[:8])
	}
}

func TestSystemErrorResponse(t *testing.T) {
	resp := systemErrorResponse()
	if resp.Success {
		t.Error("system error response must be unsuccessful")
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected exactly 1 synthetic error, got %d", len(resp.Errors))
	}
	e := resp.Errors[0]
	if e.ErrorType != model.ErrorTypeSystem {
		t.Errorf("error_type = %v, want System", e.ErrorType)
	}
	if e.CodeWindow != "" {
		t.Error("system error must have an empty code_window to be distinguishable")
	}
}
