// Package corpus builds the BEIR-shaped retrieval corpus (C1): a stream of
// sliding-window code snippets over a project tree.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/stcodegen/internal/model"
)

// Window is one sliding-window slice of a file, before it is promoted to a
// CorpusDocument (which additionally needs the project/path identity).
type Window struct {
	LineNo    int
	StartLine int
	EndLine   int
	Content   string
}

// SlidingWindows implements the two-phase sliding-window algorithm: a
// warm-up phase that always starts at line 0 and grows from window_size/2
// to window_size in slice_size steps, followed by a stride phase that
// restarts at line_no=slice_size regardless of where warm-up ended. A file
// that runs out before a warm-up window reaches full window_size yields only
// warm-up windows; a file of at least window_size lines always gets the
// stride phase too.
//
// Ported with exact fidelity from the reference corpus generator so that
// doc boundaries (and therefore doc_ids) match bit for bit across
// re-builds with the same (window_size, slice_size).
func SlidingWindows(lines []string, windowSize, sliceSize int) []Window {
	var windows []Window
	total := len(lines)
	if total == 0 {
		return windows
	}

	halfWindow := windowSize / 2
	currentWindowSize := halfWindow
	startLine := 0
	lineNo := 0

	for currentWindowSize <= windowSize {
		endLine := min(startLine+currentWindowSize, total)
		windows = append(windows, Window{
			LineNo:    lineNo,
			StartLine: startLine,
			EndLine:   endLine,
			Content:   strings.Join(lines[startLine:endLine], ""),
		})
		if endLine >= total && endLine-startLine < windowSize {
			return windows
		}
		currentWindowSize += sliceSize
		lineNo += sliceSize
	}

	lineNo = sliceSize
	for lineNo < total {
		start := lineNo
		end := min(lineNo+windowSize, total)
		windows = append(windows, Window{
			LineNo:    lineNo,
			StartLine: start,
			EndLine:   end,
			Content:   strings.Join(lines[start:end], ""),
		})
		lineNo += sliceSize
		if end >= total {
			break
		}
	}

	return windows
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// readFileLines reads a file as a slice of lines, each retaining its
// trailing newline (to match Python's readlines() semantics so that
// joined window content round-trips exactly). Unreadable files return a
// nil slice and a logged warning, never an error — corpus building is
// best-effort per §4.1's failure model.
func readFileLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("corpus: warning: cannot read file %s: %v", path, err)
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text()+"\n")
	}
	if err := scanner.Err(); err != nil {
		log.Printf("corpus: warning: error scanning file %s: %v", path, err)
		return nil
	}
	if n := len(lines); n > 0 {
		lines[n-1] = strings.TrimSuffix(lines[n-1], "\n")
	}
	return lines
}

var idSanitizer = strings.NewReplacer("\\", "_", "/", "_", " ", "_")

// BuildConfig parameterizes corpus generation.
type BuildConfig struct {
	ProjectRoot string
	ProjectName string
	Suffix      string // defaults to ".st"
	WindowSize  int    // defaults to 50
	SliceSize   int    // defaults to 5
}

func (c *BuildConfig) applyDefaults() {
	if c.Suffix == "" {
		c.Suffix = ".st"
	}
	if c.WindowSize == 0 {
		c.WindowSize = 50
	}
	if c.SliceSize == 0 {
		c.SliceSize = 5
	}
	if c.ProjectName == "" {
		c.ProjectName = filepath.Base(c.ProjectRoot)
	}
}

// Build walks projectRoot for files matching Suffix, honoring a
// .gitignore at the project root if present, and emits one CorpusDocument
// per sliding window.
func Build(cfg BuildConfig) ([]model.CorpusDocument, error) {
	cfg.applyDefaults()

	var ignorer *gitignore.GitIgnore
	if gi, err := gitignore.CompileIgnoreFile(filepath.Join(cfg.ProjectRoot, ".gitignore")); err == nil {
		ignorer = gi
	}

	var docs []model.CorpusDocument

	err := filepath.WalkDir(cfg.ProjectRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, cfg.Suffix) {
			return nil
		}
		relPath, relErr := filepath.Rel(cfg.ProjectRoot, path)
		if relErr != nil {
			relPath = path
		}
		if ignorer != nil && ignorer.MatchesPath(relPath) {
			return nil
		}

		lines := readFileLines(path)
		if len(lines) == 0 {
			return nil
		}

		windows := SlidingWindows(lines, cfg.WindowSize, cfg.SliceSize)
		for _, w := range windows {
			docID := fmt.Sprintf("%s_%s_%d-%d", cfg.ProjectName, relPath, w.StartLine, w.EndLine)
			docID = idSanitizer.Replace(docID)

			docs = append(docs, model.CorpusDocument{
				ID:    docID,
				Title: fmt.Sprintf("%s-%s", cfg.ProjectName, relPath),
				Text:  w.Content,
				Metadata: []model.CorpusMetadata{{
					FpathTuple: [2]string{cfg.ProjectName, relPath},
					Repo:       cfg.ProjectName,
					LineNo:     w.LineNo,
					StartLine:  w.StartLine,
					EndLine:    w.EndLine,
					WindowSize: cfg.WindowSize,
					SliceSize:  cfg.SliceSize,
				}},
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("corpus: walking %s: %w", cfg.ProjectRoot, err)
	}

	return docs, nil
}

// WriteJSONL writes docs as a BEIR corpus.jsonl file, one document per
// line, in the order produced by Build (which is stable for a fixed
// directory walk order and fixed window/slice sizes).
func WriteJSONL(path string, docs []model.CorpusDocument) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("corpus: creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("corpus: encoding doc %s: %w", doc.ID, err)
		}
	}
	return nil
}
