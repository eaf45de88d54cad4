// Package compiler talks to a CODESYS compile-check service over HTTP and
// normalizes its raw error records into absolute source positions (C7).
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/stcodegen/internal/llm"
	"github.com/ChamsBouzaiene/stcodegen/internal/model"
	"github.com/xeipuuv/gojsonschema"
)

const systemErrorDesc = "编译工具调用失败"

// responseSchema matches §4.7's wire contract: Success/Result/Errors, each
// error carrying ErrorDesc/IsDef/Path.
const responseSchema = `{
  "type": "object",
  "required": ["Success"],
  "properties": {
    "Success": {"type": "boolean"},
    "Result": {"type": "string"},
    "Errors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["ErrorDesc", "IsDef", "Path"],
        "properties": {
          "ErrorDesc": {"type": "string"},
          "IsDef": {"type": "boolean"},
          "Path": {"type": "integer"}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(responseSchema)

// Client is the syntax_check contract: POST the candidate ST code to a
// compile-check endpoint and get back a normalized CompileResponse.
type Client interface {
	SyntaxCheck(ctx context.Context, projectPath, blockName, stCode, endpoint string) (model.CompileResponse, error)
}

// HTTPClient implements Client against the real CODESYS wire protocol.
type HTTPClient struct {
	apiKey     string
	httpClient *http.Client
}

// compileTimeout is the CODESYS compile service's documented per-request
// budget (§5/§6.2).
const compileTimeout = 80 * time.Second

// NewHTTPClient returns an HTTPClient. apiKey is sent as the Authorization
// header value with the "ApiKey" scheme.
func NewHTTPClient(apiKey string) *HTTPClient {
	return &HTTPClient{apiKey: apiKey, httpClient: &http.Client{Timeout: compileTimeout}}
}

type wireRequest struct {
	Path      string `json:"path"`
	BlockName string `json:"BlockName"`
	Code      string `json:"Code"`
}

func (c *HTTPClient) SyntaxCheck(ctx context.Context, projectPath, blockName, stCode, endpoint string) (model.CompileResponse, error) {
	resp, err := llm.RetryHTTPWithPolicy(ctx, llm.DefaultHTTPRetryPolicy(), func(ctx context.Context) (model.CompileResponse, error) {
		return c.doRequest(ctx, projectPath, blockName, stCode, endpoint)
	}, retryAfterFromError)
	if err != nil {
		return systemErrorResponse(), nil
	}
	return resp, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, projectPath, blockName, stCode, endpoint string) (model.CompileResponse, error) {
	body, err := json.Marshal(wireRequest{Path: projectPath, BlockName: blockName, Code: stCode})
	if err != nil {
		return model.CompileResponse{}, fmt.Errorf("compiler: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(endpoint, "/")+"/api/v1/pou/workflow", bytes.NewReader(body))
	if err != nil {
		return model.CompileResponse{}, fmt.Errorf("compiler: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return model.CompileResponse{}, fmt.Errorf("compiler: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(httpResp.Body); err != nil {
		return model.CompileResponse{}, fmt.Errorf("compiler: read body: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return model.CompileResponse{}, &httpStatusError{status: httpResp.StatusCode, header: httpResp.Header}
	}
	if httpResp.StatusCode >= 400 {
		return model.CompileResponse{}, fmt.Errorf("compiler: HTTP %d: %s", httpResp.StatusCode, buf.String())
	}

	documentLoader := gojsonschema.NewBytesLoader(buf.Bytes())
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil || !result.Valid() {
		return model.CompileResponse{}, fmt.Errorf("compiler: response failed schema validation: %v", err)
	}

	var raw model.RawCompileResponse
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		return model.CompileResponse{}, fmt.Errorf("compiler: decode response: %w", err)
	}

	return Normalize(raw, stCode), nil
}

type httpStatusError struct {
	status int
	header http.Header
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("compiler: HTTP %d", e.status)
}

func retryAfterFromError(err error) time.Duration {
	var statusErr *httpStatusError
	if !asHTTPStatusError(err, &statusErr) {
		return 0
	}
	ra := statusErr.header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if d, parseErr := time.ParseDuration(ra + "s"); parseErr == nil {
		return d
	}
	return 0
}

func asHTTPStatusError(err error, target **httpStatusError) bool {
	if se, ok := err.(*httpStatusError); ok {
		*target = se
		return true
	}
	return false
}

// systemErrorResponse is the synthetic failure the spec mandates for
// connect timeouts, connection errors, and HTTP errors: a single error with
// empty code_window, distinguishing it from legitimate compile failures.
func systemErrorResponse() model.CompileResponse {
	return model.CompileResponse{
		Success: false,
		Errors: []model.CompileError{
			{ErrorDesc: systemErrorDesc, ErrorType: model.ErrorTypeSystem},
		},
	}
}
