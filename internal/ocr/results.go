package ocr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ResultsFile is the report name under the ocr output directory.
const ResultsFile = "ocr_results.json"

// Report is the serialized OCR output of a run.
type Report struct {
	Engine   string     `json:"engine"`
	Language string     `json:"language"`
	Stats    Stats      `json:"stats"`
	Pages    []PageText `json:"pages"`
}

// Results accumulates page texts as pages are recognized.
type Results struct {
	mu    sync.Mutex
	pages map[int]PageText
}

// NewResults creates an empty accumulator.
func NewResults() *Results {
	return &Results{pages: make(map[int]PageText)}
}

// Add stores the result for a page, replacing any earlier one.
func (r *Results) Add(p PageText) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[p.PageID] = p
}

// Get returns the result for a page.
func (r *Results) Get(pageID int) (PageText, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[pageID]
	return p, ok
}

// Pages returns all results ordered by page id.
func (r *Results) Pages() []PageText {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PageText, 0, len(r.pages))
	for _, p := range r.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out
}

// WriteJSON writes the report to dir/ocr_results.json.
func (r *Results) WriteJSON(dir string, runner *Runner) (string, error) {
	report := Report{Pages: r.Pages()}
	if runner != nil {
		report.Engine = runner.Engine()
		report.Language = runner.Language()
		report.Stats = runner.Stats()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create ocr dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal ocr results: %w", err)
	}
	path := filepath.Join(dir, ResultsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write ocr results: %w", err)
	}
	return path, nil
}
