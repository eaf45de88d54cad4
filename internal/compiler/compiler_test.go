package compiler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

func TestHTTPClient_SyntaxCheck_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "ApiKey test-key" {
			t.Errorf("missing/incorrect Authorization header: %q", r.Header.Get("Authorization"))
		}
		var body wireRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.BlockName != "FB_Counter" {
			t.Errorf("BlockName = %q, want FB_Counter", body.BlockName)
		}
		resp := model.RawCompileResponse{Success: true, Result: "ok"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewHTTPClient("test-key")
	resp, err := client.SyntaxCheck(context.Background(), "/proj", "FB_Counter", "FUNCTION_BLOCK FB_Counter\nEND_FUNCTION_BLOCK\n", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Error("expected Success=true")
	}
}

func TestHTTPClient_SyntaxCheck_CompileErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := model.RawCompileResponse{
			Success: false,
			Errors:  []model.RawCompileError{{ErrorDesc: "undeclared variable", IsDef: true, Path: 1}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewHTTPClient("")
	resp, err := client.SyntaxCheck(context.Background(), "/proj", "Foo", "FUNCTION Foo : INT\nVAR_INPUT\nEND_VAR\n", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success {
		t.Error("expected Success=false")
	}
	if len(resp.Errors) != 1 || resp.Errors[0].ErrorType != model.ErrorTypeDeclaration {
		t.Errorf("unexpected normalized errors: %+v", resp.Errors)
	}
}

func TestHTTPClient_SyntaxCheck_ConnectionFailureYieldsSystemError(t *testing.T) {
	client := NewHTTPClient("")
	resp, err := client.SyntaxCheck(context.Background(), "/proj", "Foo", "FUNCTION Foo : INT\nEND_FUNCTION\n", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("SyntaxCheck itself should not error, got: %v", err)
	}
	if resp.Success {
		t.Error("expected Success=false for connection failure")
	}
	if len(resp.Errors) != 1 || resp.Errors[0].ErrorType != model.ErrorTypeSystem {
		t.Fatalf("expected single synthetic system error, got: %+v", resp.Errors)
	}
	if resp.Errors[0].CodeWindow != "" {
		t.Error("system error must carry an empty code_window")
	}
}

func TestHTTPClient_SyntaxCheck_MalformedResponseYieldsSystemError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not": "the expected shape"`))
	}))
	defer srv.Close()

	client := NewHTTPClient("")
	resp, err := client.SyntaxCheck(context.Background(), "/proj", "Foo", "FUNCTION Foo : INT\nEND_FUNCTION\n", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success || len(resp.Errors) != 1 || resp.Errors[0].ErrorType != model.ErrorTypeSystem {
		t.Fatalf("expected synthetic system error for malformed body, got: %+v", resp)
	}
}

func TestParseMockCompilerOutput_JSONPreferred(t *testing.T) {
	stdout := `{"Success": true, "Result": "ok"}`
	raw := parseMockCompilerOutput(stdout, "", 1)
	if !raw.Success {
		t.Error("expected JSON stdout to take precedence over non-zero exit code")
	}
}

func TestParseMockCompilerOutput_FallsBackToExitCode(t *testing.T) {
	raw := parseMockCompilerOutput("", "syntax error near line 3", 1)
	if raw.Success {
		t.Error("expected failure for non-zero exit with no JSON output")
	}
	if len(raw.Errors) != 1 || raw.Errors[0].ErrorDesc != "syntax error near line 3" {
		t.Errorf("unexpected errors: %+v", raw.Errors)
	}
}

func TestParseMockCompilerOutput_ZeroExitSucceeds(t *testing.T) {
	raw := parseMockCompilerOutput("", "", 0)
	if !raw.Success {
		t.Error("expected success for zero exit code with no JSON output")
	}
}
