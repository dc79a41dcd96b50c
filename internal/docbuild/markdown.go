package docbuild

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/vidoc/internal/types"
)

// MarkdownFile is the Markdown document name in the result directory.
const MarkdownFile = "document.md"

// MarkdownSink appends one section per page to document.md, flushing after
// every page so a partial run leaves a readable document.
type MarkdownSink struct {
	path   string
	f      *os.File
	w      *bufio.Writer
	assets *Assets
}

// NewMarkdownSink creates document.md and writes its title.
func NewMarkdownSink(dir, title string, assets *Assets) (*MarkdownSink, error) {
	path := filepath.Join(dir, MarkdownFile)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown file: %w", err)
	}
	s := &MarkdownSink{path: path, f: f, w: bufio.NewWriter(f), assets: assets}
	fmt.Fprintf(s.w, "# %s\n\n", title)
	if err := s.w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Format returns FormatMD.
func (s *MarkdownSink) Format() Format {
	return FormatMD
}

// WritePage appends the page section.
func (s *MarkdownSink) WritePage(_ context.Context, p Page) error {
	body, err := s.render(p)
	if err != nil {
		return err
	}
	if _, err := s.w.WriteString(body); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *MarkdownSink) render(p Page) (string, error) {
	rec := p.Record
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Page %d\n\n", rec.PageID)
	fmt.Fprintf(&sb, "`%s` to `%s`, %d frames\n\n", Timestamp(rec.Range.Start), Timestamp(rec.Range.End), rec.FrameCount)

	if rec.IsDuplicate() {
		fmt.Fprintf(&sb, "> Duplicate of [page %d](#page-%d).\n\n", rec.Dedup.DuplicateOf, rec.Dedup.DuplicateOf)
		return sb.String(), nil
	}

	name, err := s.assets.Page(rec)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "![Page %d](%s)\n\n", rec.PageID, name)

	for _, r := range rec.Regions {
		if r.IsDuplicate() {
			fmt.Fprintf(&sb, "_%s repeats [page %d](#page-%d), region %d._\n\n",
				regionLabel(r), r.DuplicateOf.PageID, r.DuplicateOf.PageID, r.DuplicateOf.RegionIndex+1)
			continue
		}
		if r.Kind == types.RegionText {
			res, ok := p.Text.Region(r.Index)
			if !ok {
				continue
			}
			if !res.Failed && res.Text != "" {
				sb.WriteString(res.Text)
				sb.WriteString("\n\n")
				continue
			}
		}
		crop, err := s.assets.Region(rec, r)
		if err != nil {
			return "", err
		}
		caption := regionLabel(r)
		switch {
		case r.Kind == types.RegionText:
			caption += " (text not recognized)"
		case r.Downgraded:
			caption += " (possible table)"
		}
		fmt.Fprintf(&sb, "![%s](%s)\n\n", caption, crop)
	}
	return sb.String(), nil
}

// Close flushes and closes document.md.
func (s *MarkdownSink) Close() ([]string, error) {
	if s.f == nil {
		return nil, nil
	}
	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	if err != nil {
		return nil, err
	}
	return []string{s.path}, nil
}
