package retriever

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// NoOpEmbedder returns zero vectors; used as a degrade-to-lexical-only
// fallback when no embedding credentials are configured.
type NoOpEmbedder struct{ dimension int }

// NewNoOpEmbedder creates a no-op embedder of the given dimension.
func NewNoOpEmbedder(dimension int) *NoOpEmbedder {
	if dimension == 0 {
		dimension = 384
	}
	return &NoOpEmbedder{dimension: dimension}
}

func (e *NoOpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, e.dimension), nil
}

func (e *NoOpEmbedder) Dimension() int { return e.dimension }

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey    string
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

type openAIEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder. baseURL defaults to
// the public OpenAI API when empty.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimension int) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimension == 0 {
		dimension = 1536
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIEmbedder{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		client:    &http.Client{},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := openAIEmbeddingRequest{Input: []string{text}, Model: e.model}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("retriever: marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("retriever: build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retriever: embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("retriever: reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retriever: embedding API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("retriever: parsing embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("retriever: no embeddings returned")
	}
	return parsed.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// NewEmbedderFromEnv builds an Embedder from OPENAI_API_KEY, falling back to
// NoOpEmbedder (degraded, lexical-only retrieval) when unset.
func NewEmbedderFromEnv() Embedder {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return NewNoOpEmbedder(384)
	}
	baseURL := os.Getenv("OPENAI_API_BASE")
	model := os.Getenv("OPENAI_EMBEDDING_MODEL")
	return NewOpenAIEmbedder(apiKey, baseURL, model, 0)
}

// encodeVector and decodeVector store float32 vectors as little-endian
// bytes in the SQLite embedding cache.
func encodeVector(vector []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, vector)
	return buf.Bytes()
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("retriever: invalid cached vector length %d", len(data))
	}
	vector := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &vector); err != nil {
		return nil, fmt.Errorf("retriever: decoding cached vector: %w", err)
	}
	return vector, nil
}
