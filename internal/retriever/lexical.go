package retriever

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// LexicalIndex provides a secondary BM25 signal over corpus documents,
// used standalone when the dense embedder is degraded (§4.3). With a real
// embedder it is blended with the dense score only when
// Retriever.LexicalWeight is set non-zero; New leaves it at zero.
type LexicalIndex struct {
	index bleve.Index
	path  string
}

// NewLexicalIndex creates or recreates a BM25 index at path.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildDocMapping())
		if err != nil {
			return nil, fmt.Errorf("retriever: creating bleve index: %w", err)
		}
	} else if err != nil {
		_ = os.RemoveAll(path)
		idx, err = bleve.New(path, buildDocMapping())
		if err != nil {
			return nil, fmt.Errorf("retriever: recreating bleve index: %w", err)
		}
	}
	return &LexicalIndex{index: idx, path: path}, nil
}

func buildDocMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	idField.Index = true
	docMapping.AddFieldMappingsAt("doc_id", idField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	textField.Index = true
	docMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// IndexDocument indexes one corpus document's text under its doc id.
func (l *LexicalIndex) IndexDocument(docID, text string) error {
	return l.index.Index(docID, map[string]interface{}{"doc_id": docID, "text": text})
}

// LexicalHit is one scored document from a bleve search.
type LexicalHit struct {
	DocID string
	Score float64
}

// Search runs a BM25 match query and returns the top k hits.
func (l *LexicalIndex) Search(queryText string, k int) ([]LexicalHit, error) {
	q := bleve.NewMatchQuery(queryText)
	req := bleve.NewSearchRequest(q)
	req.Size = k
	res, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("retriever: bleve search failed: %w", err)
	}
	hits := make([]LexicalHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, LexicalHit{DocID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Close closes the underlying bleve index.
func (l *LexicalIndex) Close() error { return l.index.Close() }
