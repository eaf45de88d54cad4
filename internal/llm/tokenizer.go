package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and truncates text by token count. The Generator uses
// this to keep base_prompt within max_length_input before the LLM call.
type Tokenizer interface {
	CountTokens(text string) int
	// Truncate returns text cut down to at most maxTokens tokens, decoded
	// back to a string, mirroring the source's encode-then-slice-then-decode
	// truncation.
	Truncate(text string, maxTokens int) string
}

// cl100kTokenizer wraps tiktoken-go's cl100k_base encoding, the same BPE
// vocabulary the source's `tiktoken.get_encoding("cl100k_base")` uses.
type cl100kTokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	cl100kOnce sync.Once
	cl100k     *cl100kTokenizer
)

// NewTokenizer returns the cl100k_base tokenizer, falling back to a
// heuristic character-count estimator if the BPE vocabulary fails to load
// (e.g. no network access to fetch tiktoken-go's rank file on first use).
func NewTokenizer() Tokenizer {
	cl100kOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			cl100k = &cl100kTokenizer{enc: enc}
		}
	})
	if cl100k != nil {
		return cl100k
	}
	return heuristicTokenizer{}
}

func (t *cl100kTokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *cl100kTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return t.enc.Decode(ids[:maxTokens])
}

// heuristicTokenizer approximates token count at ~4 characters per token,
// the same estimate the teacher's engine.EstimateTokens uses, kept as a
// fallback so truncation degrades gracefully rather than failing outright.
type heuristicTokenizer struct{}

func (heuristicTokenizer) CountTokens(text string) int {
	return EstimateTokens(text)
}

func (heuristicTokenizer) Truncate(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

// EstimateTokens approximates token count from character length.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := []rune(text)
	whitespace := 0
	for _, r := range runes {
		if r == ' ' || r == '\t' || r == '\n' {
			whitespace++
		}
	}
	est := len(runes)/4 + whitespace/6
	if est < 1 {
		return 1
	}
	return est
}
