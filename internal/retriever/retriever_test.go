package retriever

import (
	"context"
	"math"
	"testing"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

// fakeEmbedder returns the code points of the text's first dim runes,
// scaled to unit length, so distinct texts get distinguishable (but
// deterministic) vectors and an identical text scores highest under dot
// product.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	var norm float64
	for i, r := range text {
		if i >= f.dim {
			break
		}
		vec[i] = float32(r)
		norm += float64(r) * float64(r)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func sampleCorpus() []model.CorpusDocument {
	return []model.CorpusDocument{
		{ID: "a", Text: "IF bEnable THEN nCount := nCount + 1; END_IF"},
		{ID: "b", Text: "nResult := nA + nB;"},
		{ID: "c", Text: "IF bEnable THEN nCount := nCount + 1; END_IF"}, // identical to a
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	r := New(&fakeEmbedder{dim: 8}, nil, nil)
	_, err := r.Retrieve(context.Background(), []model.Query{{ID: "q1", Text: "x"}}, nil)
	if err == nil {
		t.Fatal("expected error for empty corpus")
	}
}

func TestRetrieve_ScoresDescending(t *testing.T) {
	r := New(&fakeEmbedder{dim: 8}, nil, nil)
	results, err := r.Retrieve(context.Background(), []model.Query{
		{ID: "q1", Text: "IF bEnable THEN nCount := nCount + 1; END_IF"},
	}, sampleCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, ok := results["q1"]
	if !ok {
		t.Fatal("missing result for q1")
	}
	if len(res.Docs) != 3 {
		t.Fatalf("expected 3 scored docs, got %d", len(res.Docs))
	}
	for i := 1; i < len(res.Docs); i++ {
		if res.Docs[i].Score > res.Docs[i-1].Score {
			t.Errorf("scores not descending at index %d: %v > %v", i, res.Docs[i].Score, res.Docs[i-1].Score)
		}
	}
	// The identical-text doc should be tied for top score with "a".
	top := res.Docs[0].DocID
	if top != "a" && top != "c" {
		t.Errorf("expected top doc to be the exact-match doc, got %s", top)
	}
}

func TestRetrieve_SingleQueryDummyNotLeaked(t *testing.T) {
	r := New(&fakeEmbedder{dim: 8}, nil, nil)
	results, err := r.Retrieve(context.Background(), []model.Query{{ID: "only", Text: "nResult := nA + nB;"}}, sampleCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result (dummy must not leak), got %d: %v", len(results), results)
	}
	if _, ok := results["only"]; !ok {
		t.Error("expected result keyed by the real query id")
	}
	if _, ok := results["__dummy__"]; ok {
		t.Error("dummy query result leaked into output")
	}
}

func TestTopK(t *testing.T) {
	r := model.RetrievalResult{QueryID: "q", Docs: []model.ScoredDoc{
		{DocID: "a", Score: 3}, {DocID: "b", Score: 2}, {DocID: "c", Score: 1},
	}}
	truncated := TopK(r, 2)
	if len(truncated.Docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(truncated.Docs))
	}
	if truncated.Docs[0].DocID != "a" || truncated.Docs[1].DocID != "b" {
		t.Errorf("unexpected truncation result: %+v", truncated.Docs)
	}
}

func TestNoOpEmbedder_DegradesRetriever(t *testing.T) {
	r := New(NewNoOpEmbedder(4), nil, nil)
	if !r.Degraded() {
		t.Error("expected retriever with NoOpEmbedder to report degraded")
	}
}
