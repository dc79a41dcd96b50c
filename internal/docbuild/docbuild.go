// Package docbuild writes finalized pages to output documents as they are emitted.
package docbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/types"
)

// Format names an output document kind.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatMD   Format = "md"
	FormatImg  Format = "img"
	FormatEPUB Format = "epub"
)

// Formats lists every supported output format.
var Formats = []Format{FormatPDF, FormatMD, FormatImg, FormatEPUB}

// ParseFormats validates and de-duplicates format names.
func ParseFormats(names []string) ([]Format, error) {
	seen := make(map[Format]bool)
	var out []Format
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			f := Format(strings.ToLower(strings.TrimSpace(part)))
			if f == "" {
				continue
			}
			if !validFormat(f) {
				return nil, fmt.Errorf("%w: unknown output format %q", types.ErrInvalidConfig, part)
			}
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	if len(out) == 0 {
		return []Format{FormatImg}, nil
	}
	return out, nil
}

func validFormat(f Format) bool {
	for _, v := range Formats {
		if v == f {
			return true
		}
	}
	return false
}

// Page is one emitted page with its recognized text.
type Page struct {
	Record *types.PageRecord
	Text   ocr.PageText
}

// Sink receives pages in emission order.
type Sink interface {
	Format() Format
	WritePage(ctx context.Context, p Page) error
	// Close finalizes the document and returns the paths it produced.
	Close() ([]string, error)
}

// Config configures a Builder.
type Config struct {
	Dir      string // result directory
	Formats  []Format
	Title    string
	Language string // OCR language code
	Logger   *slog.Logger
}

// Builder fans pages out to one sink per configured format.
type Builder struct {
	sinks   []Sink
	assets  *Assets
	logger  *slog.Logger
	pages   int
	outputs []string
}

// New creates the result directory layout and opens every sink.
func New(cfg Config) (*Builder, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: output directory is required", types.ErrInvalidConfig)
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []Format{FormatImg}
	}
	if cfg.Title == "" {
		cfg.Title = "Untitled document"
	}
	if cfg.Language == "" {
		cfg.Language = ocr.DefaultLanguage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}

	b := &Builder{
		assets: NewAssets(cfg.Dir),
		logger: cfg.Logger.With("component", "docbuild"),
	}
	for _, f := range cfg.Formats {
		var (
			s   Sink
			err error
		)
		switch f {
		case FormatPDF:
			s, err = NewPDFSink(PDFConfig{Dir: cfg.Dir, Logger: cfg.Logger})
		case FormatMD:
			s, err = NewMarkdownSink(cfg.Dir, cfg.Title, b.assets)
		case FormatImg:
			s, err = NewImageSink(b.assets)
		case FormatEPUB:
			s, err = NewEPUBSink(EPUBConfig{Dir: cfg.Dir, Title: cfg.Title, Language: cfg.Language})
		default:
			err = fmt.Errorf("%w: unknown output format %q", types.ErrInvalidConfig, f)
		}
		if err != nil {
			_, _ = b.Close()
			return nil, err
		}
		b.sinks = append(b.sinks, s)
	}
	return b, nil
}

// WritePage hands a page to every sink. Pages must arrive in emission order.
func (b *Builder) WritePage(ctx context.Context, p Page) error {
	if p.Record == nil {
		return fmt.Errorf("page record is required")
	}
	for _, s := range b.sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.WritePage(ctx, p); err != nil {
			return fmt.Errorf("%s: page %d: %w", s.Format(), p.Record.PageID, err)
		}
	}
	b.pages++
	return nil
}

// Pages returns the number of pages written.
func (b *Builder) Pages() int {
	return b.pages
}

// Close finalizes every sink and returns all produced paths.
func (b *Builder) Close() ([]string, error) {
	var errs []error
	for _, s := range b.sinks {
		paths, err := s.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Format(), err))
		}
		b.outputs = append(b.outputs, paths...)
	}
	b.sinks = nil
	if len(errs) == 0 {
		b.logger.Info("documents written", "pages", b.pages, "outputs", len(b.outputs))
	}
	return b.outputs, errors.Join(errs...)
}

// Timestamp renders a video offset as HH:MM:SS.mmm.
func Timestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}

// regionLabel names a region for captions and alt text.
func regionLabel(r types.Region) string {
	switch r.Kind {
	case types.RegionTableCandidate:
		return fmt.Sprintf("Table %d", r.Index+1)
	case types.RegionFigure:
		return fmt.Sprintf("Figure %d", r.Index+1)
	default:
		return fmt.Sprintf("Text %d", r.Index+1)
	}
}
