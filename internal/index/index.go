// Package index records per-page metadata for search and tooling: a JSON or
// YAML document validated against an embedded schema, and an optional SQLite
// database for full-text lookup.
package index

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/types"
)

const (
	Version = 1

	JSONFile = "index.json"
	YAMLFile = "index.yaml"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Index is the serialized page index.
type Index struct {
	Version     int         `json:"version" yaml:"version"`
	Source      string      `json:"source" yaml:"source"`
	RunID       string      `json:"run_id" yaml:"run_id"`
	GeneratedAt time.Time   `json:"generated_at" yaml:"generated_at"`
	Language    string      `json:"language,omitempty" yaml:"language,omitempty"`
	Pages       []PageEntry `json:"pages" yaml:"pages"`
}

// PageEntry is the index record of one page.
type PageEntry struct {
	PageID       int                `json:"page_id" yaml:"page_id"`
	StartSeconds float64            `json:"start_seconds" yaml:"start_seconds"`
	EndSeconds   float64            `json:"end_seconds" yaml:"end_seconds"`
	Start        string             `json:"start" yaml:"start"`
	End          string             `json:"end" yaml:"end"`
	FrameCount   int                `json:"frame_count" yaml:"frame_count"`
	Dedup        types.DedupStatus  `json:"dedup" yaml:"dedup"`
	Kinds        []types.RegionKind `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Text         string             `json:"text,omitempty" yaml:"text,omitempty"`
	Regions      []RegionEntry      `json:"regions" yaml:"regions"`
}

// RegionEntry is the index record of one region.
type RegionEntry struct {
	Index       int               `json:"index" yaml:"index"`
	Kind        types.RegionKind  `json:"kind" yaml:"kind"`
	Confidence  float64           `json:"confidence" yaml:"confidence"`
	Downgraded  bool              `json:"downgraded,omitempty" yaml:"downgraded,omitempty"`
	Box         types.BoundingBox `json:"box" yaml:"box"`
	DuplicateOf *types.RegionRef  `json:"duplicate_of,omitempty" yaml:"duplicate_of,omitempty"`
	Text        string            `json:"text,omitempty" yaml:"text,omitempty"`
	OCRFailed   bool              `json:"ocr_failed,omitempty" yaml:"ocr_failed,omitempty"`
}

// NewEntry builds the index record for a page and its recognized text.
func NewEntry(rec *types.PageRecord, text ocr.PageText) PageEntry {
	e := PageEntry{
		PageID:       rec.PageID,
		StartSeconds: rec.Range.Start.Seconds(),
		EndSeconds:   rec.Range.End.Seconds(),
		Start:        timestamp(rec.Range.Start),
		End:          timestamp(rec.Range.End),
		FrameCount:   rec.FrameCount,
		Dedup:        rec.Dedup,
		Text:         text.Text(),
		Regions:      make([]RegionEntry, 0, len(rec.Regions)),
	}
	seen := make(map[types.RegionKind]bool)
	for _, r := range rec.Regions {
		re := RegionEntry{
			Index:       r.Index,
			Kind:        r.Kind,
			Confidence:  r.Confidence,
			Downgraded:  r.Downgraded,
			Box:         r.Box,
			DuplicateOf: r.DuplicateOf,
		}
		if res, ok := text.Region(r.Index); ok {
			re.Text = res.Text
			re.OCRFailed = res.Failed
		}
		e.Regions = append(e.Regions, re)
		if !seen[r.Kind] {
			seen[r.Kind] = true
			e.Kinds = append(e.Kinds, r.Kind)
		}
	}
	return e
}

// Builder accumulates page entries in emission order.
type Builder struct {
	mu    sync.Mutex
	index Index
}

// NewBuilder starts an index for a run.
func NewBuilder(source, runID, language string) *Builder {
	return &Builder{index: Index{
		Version:  Version,
		Source:   source,
		RunID:    runID,
		Language: language,
		Pages:    []PageEntry{},
	}}
}

// Add appends a page.
func (b *Builder) Add(rec *types.PageRecord, text ocr.PageText) PageEntry {
	e := NewEntry(rec, text)
	b.mu.Lock()
	b.index.Pages = append(b.index.Pages, e)
	b.mu.Unlock()
	return e
}

// Index returns a snapshot stamped with the current time.
func (b *Builder) Index() Index {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.index
	idx.GeneratedAt = time.Now().UTC()
	idx.Pages = append([]PageEntry(nil), b.index.Pages...)
	return idx
}

// Write validates the index and writes it to dir as index.json or index.yaml.
func (b *Builder) Write(dir, format string) (string, error) {
	idx := b.Index()
	if err := Validate(idx); err != nil {
		return "", err
	}

	var (
		data []byte
		name string
		err  error
	)
	switch format {
	case "json", "":
		name = JSONFile
		data, err = json.MarshalIndent(idx, "", "  ")
	case "yaml", "yml":
		name = YAMLFile
		data, err = yaml.Marshal(idx)
	default:
		return "", fmt.Errorf("%w: unknown index format %q", types.ErrInvalidConfig, format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode index: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write index: %w", err)
	}
	return path, nil
}

// Validate checks idx against the embedded JSON schema.
func Validate(idx Index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return ValidateJSON(data)
}

// ValidateJSON checks an encoded index against the embedded JSON schema.
func ValidateJSON(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode index for validation: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("index does not match schema: %w", err)
	}
	return nil
}

// Load reads an index.json or index.yaml file and validates it.
func Load(path string) (Index, error) {
	var idx Index
	data, err := os.ReadFile(path)
	if err != nil {
		return idx, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &idx)
	default:
		err = json.Unmarshal(data, &idx)
	}
	if err != nil {
		return idx, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return idx, Validate(idx)
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("index.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to load index schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("index.schema.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile index schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

func timestamp(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}
