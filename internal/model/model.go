// Package model holds the data types shared across the retrieval, planning,
// generation and repair stages of the pipeline.
package model

// FunctionType enumerates the POU kinds a Case can target.
type FunctionType string

const (
	FunctionTypeFunction      FunctionType = "FUNCTION"
	FunctionTypeFunctionBlock FunctionType = "FUNCTION_BLOCK"
	FunctionTypeMethod        FunctionType = "METHOD"
)

// Project is a named collection of ST source files under a root directory.
// It is read-only input to the pipeline.
type Project struct {
	Name string
	Root string
}

// Case is one generation task: a single function to complete.
type Case struct {
	TaskID       string
	FunctionName string
	FunctionType FunctionType
	Requirement  string
	ProvideCode  string
	GroundTruth  string
}

// CorpusMetadata carries the sliding-window provenance for a CorpusDocument.
type CorpusMetadata struct {
	FpathTuple [2]string `json:"fpath_tuple"`
	Repo       string    `json:"repo"`
	LineNo     int       `json:"line_no"`
	StartLine  int       `json:"start_line_no"`
	EndLine    int       `json:"end_line_no"`
	WindowSize int       `json:"window_size"`
	SliceSize  int       `json:"slice_size"`
}

// CorpusDocument is one sliding-window snippet in the BEIR corpus.
type CorpusDocument struct {
	ID       string           `json:"_id"`
	Title    string           `json:"title"`
	Text     string           `json:"text"`
	Metadata []CorpusMetadata `json:"metadata"`
}

// QueryMetadata is the BEIR queries.jsonl metadata object.
type QueryMetadata struct {
	TaskID       string   `json:"task_id"`
	GroundTruth  string   `json:"ground_truth"`
	FpathTuple   [2]string `json:"fpath_tuple"`
	FunctionName string   `json:"function_name"`
	FunctionType string   `json:"function_type,omitempty"`
	LineNo       int      `json:"lineno"`
}

// Query is one retrieval/generation target derived from a Case.
type Query struct {
	ID       string        `json:"_id"`
	Text     string        `json:"text"`
	Metadata QueryMetadata `json:"metadata"`
}

// ScoredDoc is one (doc_id, score) pair in a RetrievalResult.
type ScoredDoc struct {
	DocID string
	Score float64
}

// RetrievalResult is the ranked list of corpus documents for one query,
// descending by score.
type RetrievalResult struct {
	QueryID string
	Docs    []ScoredDoc
}

// ContextWindowType enumerates how a ContextWindow was collected. The
// planner only ever produces "call" windows; "definition" exists for
// schema completeness with the upstream research tooling.
type ContextWindowType string

const (
	ContextTypeCall       ContextWindowType = "call"
	ContextTypeDefinition ContextWindowType = "definition"
)

// ContextWindow is a slice of surrounding source collected by the Planner
// around a call site of the function under construction.
type ContextWindow struct {
	FilePath         string
	LineNumber       int // 1-based
	ContextType      ContextWindowType
	CodeWindow       string
	SurroundingLines []string
}

// ErrorType classifies a normalized CompileError.
type ErrorType string

const (
	ErrorTypeDeclaration    ErrorType = "Declaration Section Error"
	ErrorTypeImplementation ErrorType = "Implementation Section Error"
	ErrorTypeSystem         ErrorType = "System Error"
)

// RawCompileError is the wire shape returned by the CODESYS compile service.
type RawCompileError struct {
	ErrorDesc string `json:"ErrorDesc"`
	IsDef     bool   `json:"IsDef"`
	Path      int    `json:"Path"`
}

// RawCompileResponse is the wire shape of the CODESYS compile service body.
type RawCompileResponse struct {
	Success bool              `json:"Success"`
	Result  string            `json:"Result"`
	Errors  []RawCompileError `json:"Errors"`
}

// CompileError is a normalized compiler diagnostic. LineNo carries the
// absolute 0-based source line (base + the wire response's relative Path),
// as resolved by compiler.Normalize.
type CompileError struct {
	ErrorDesc   string
	ErrorType   ErrorType
	LineNo      int
	LineContent string
	CodeWindow  string
}

// CompileResponse is the normalized result of a syntax_check call.
type CompileResponse struct {
	Success bool
	Result  string
	Errors  []CompileError
}

// EvaluationResult holds the CodeBLEU subscores for one file or aggregate.
type EvaluationResult struct {
	CodeBLEU            float64 `json:"codebleu"`
	NgramMatch          float64 `json:"ngram_match"`
	WeightedNgramMatch  float64 `json:"weighted_ngram_match"`
	SyntaxMatch         float64 `json:"syntax_match"`
	DataflowMatch       float64 `json:"dataflow_match"`
	ReferenceLength     int     `json:"reference_length"`
	PredictionLength    int     `json:"prediction_length"`
}

// ProjectEvaluation aggregates per-file EvaluationResults for a project.
type ProjectEvaluation struct {
	Project                string                      `json:"project"`
	PerFile                map[string]EvaluationResult `json:"per_file"`
	Average                EvaluationResult            `json:"average"`
	SuccessfulEvaluations  int                         `json:"successful_evaluations"`
}

// ProjectRunResult is one project's outcome in a RunReport.
type ProjectRunResult struct {
	Status           string           `json:"status"` // "success" | "failed" | "skipped"
	FailedStep       string           `json:"failed_step,omitempty"`
	DurationMS       int64            `json:"duration_ms"`
	StageDurationsMS map[string]int64 `json:"stage_durations_ms,omitempty"`
}

// RunReport is the Orchestrator's machine-readable end-of-run summary
// (ambient addition enriching §4.11 with per-stage timing).
type RunReport struct {
	Projects map[string]ProjectRunResult `json:"projects"`
}

// LLMConfig is the injected configuration for any component that makes LLM
// calls (§9 design note, formalized).
type LLMConfig struct {
	Provider            string
	Endpoint            string
	APIKey              string
	Model               string
	Temperature         float32
	TopP                float32
	MaxTokens           int
	RetryCount          int
	RetryBackoffSeconds int
}
