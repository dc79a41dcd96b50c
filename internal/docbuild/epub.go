package docbuild

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/vidoc/internal/types"
)

// EPUBFile is the ePub document name in the result directory.
const EPUBFile = "document.epub"

// EPUBConfig configures the ePub sink.
type EPUBConfig struct {
	Dir      string
	Title    string
	Author   string
	Language string // OCR language code, mapped to ISO 639-1
	ID       string // defaults to a random urn:uuid
}

// epubPage is one spine entry.
type epubPage struct {
	ID     string
	Title  string
	Images []string // manifest hrefs relative to OEBPS
}

// EPUBSink streams an ePub 3 archive: the mimetype, container and stylesheet
// are written on open, one XHTML document per page as pages arrive, and the
// package and navigation documents on Close.
type EPUBSink struct {
	cfg     EPUBConfig
	path    string
	f       *os.File
	zw      *zip.Writer
	pages   []epubPage
	created time.Time
}

// NewEPUBSink creates document.epub and writes the fixed archive entries.
func NewEPUBSink(cfg EPUBConfig) (*EPUBSink, error) {
	if cfg.ID == "" {
		cfg.ID = "urn:uuid:" + uuid.New().String()
	}
	if cfg.Author == "" {
		cfg.Author = "vidoc"
	}
	path := filepath.Join(cfg.Dir, EPUBFile)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create epub file: %w", err)
	}
	s := &EPUBSink{cfg: cfg, path: path, f: f, zw: zip.NewWriter(f), created: time.Now().UTC()}

	if err := s.writeMimetype(); err != nil {
		s.abort()
		return nil, err
	}
	if err := s.writeFile("META-INF/container.xml", containerXML); err != nil {
		s.abort()
		return nil, err
	}
	if err := s.writeFile("OEBPS/styles/style.css", stylesheet); err != nil {
		s.abort()
		return nil, err
	}
	return s, nil
}

// Format returns FormatEPUB.
func (s *EPUBSink) Format() Format {
	return FormatEPUB
}

// WritePage adds the page document and its images to the archive.
func (s *EPUBSink) WritePage(_ context.Context, p Page) error {
	rec := p.Record
	page := epubPage{
		ID:    fmt.Sprintf("page_%05d", rec.PageID),
		Title: fmt.Sprintf("Page %d", rec.PageID),
	}

	var blocks []xhtmlBlock
	if rec.IsDuplicate() {
		blocks = append(blocks, xhtmlBlock{
			Note: fmt.Sprintf("Duplicate of page %d.", rec.Dedup.DuplicateOf),
			Link: fmt.Sprintf("page_%05d.xhtml", rec.Dedup.DuplicateOf),
		})
	} else {
		var err error
		blocks, err = s.pageBlocks(p, &page)
		if err != nil {
			return err
		}
	}

	doc := pageXHTML(page.Title, Timestamp(rec.Range.Start), Timestamp(rec.Range.End), blocks)
	if err := s.writeFile("OEBPS/pages/"+page.ID+".xhtml", doc); err != nil {
		return err
	}
	s.pages = append(s.pages, page)
	return nil
}

func (s *EPUBSink) pageBlocks(p Page, page *epubPage) ([]xhtmlBlock, error) {
	rec := p.Record
	var blocks []xhtmlBlock
	recognized := false
	for _, r := range rec.Regions {
		if r.IsDuplicate() {
			blocks = append(blocks, xhtmlBlock{
				Note: fmt.Sprintf("%s repeats page %d, region %d.", regionLabel(r), r.DuplicateOf.PageID, r.DuplicateOf.RegionIndex+1),
				Link: fmt.Sprintf("page_%05d.xhtml", r.DuplicateOf.PageID),
			})
			continue
		}
		if r.Kind == types.RegionText {
			res, ok := p.Text.Region(r.Index)
			if !ok {
				continue
			}
			if !res.Failed && res.Text != "" {
				blocks = append(blocks, xhtmlBlock{Text: res.Text})
				recognized = true
				continue
			}
		}
		href := fmt.Sprintf("images/%s_r%02d.png", page.ID, r.Index)
		if err := s.writeImage("OEBPS/"+href, types.Crop(rec.Representative, r.Box)); err != nil {
			return nil, err
		}
		page.Images = append(page.Images, href)
		blocks = append(blocks, xhtmlBlock{Image: "../" + href, Caption: regionLabel(r)})
	}
	if !recognized && rec.Representative != nil {
		href := fmt.Sprintf("images/%s.png", page.ID)
		if err := s.writeImage("OEBPS/"+href, rec.Representative); err != nil {
			return nil, err
		}
		page.Images = append(page.Images, href)
		blocks = append([]xhtmlBlock{{Image: "../" + href, Caption: page.Title}}, blocks...)
	}
	return blocks, nil
}

// Close writes the package and navigation documents and closes the archive.
func (s *EPUBSink) Close() ([]string, error) {
	if s.zw == nil {
		return nil, nil
	}
	lang := isoLanguage(s.cfg.Language)
	entries := []struct {
		name, content string
	}{
		{"OEBPS/content.opf", packageOPF(s.cfg, lang, s.created, s.pages)},
		{"OEBPS/nav.xhtml", navXHTML(s.pages)},
		{"OEBPS/toc.ncx", tocNCX(s.cfg, s.pages)},
	}
	for _, e := range entries {
		if err := s.writeFile(e.name, e.content); err != nil {
			s.abort()
			return nil, err
		}
	}
	err := s.zw.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.zw = nil
	if err != nil {
		return nil, fmt.Errorf("failed to finish epub: %w", err)
	}
	return []string{s.path}, nil
}

// writeMimetype writes the mimetype entry first and uncompressed.
func (s *EPUBSink) writeMimetype() error {
	w, err := s.zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create mimetype: %w", err)
	}
	_, err = w.Write([]byte("application/epub+zip"))
	return err
}

func (s *EPUBSink) writeFile(name, content string) error {
	w, err := s.zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	_, err = w.Write([]byte(content))
	return err
}

func (s *EPUBSink) writeImage(name string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	// PNG data is already compressed.
	w, err := s.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func (s *EPUBSink) abort() {
	if s.zw != nil {
		_ = s.zw.Close()
		s.zw = nil
	}
	_ = s.f.Close()
	_ = os.Remove(s.path)
}

// isoLanguage maps common tesseract codes to ISO 639-1.
func isoLanguage(code string) string {
	switch code {
	case "eng", "":
		return "en"
	case "spa":
		return "es"
	case "fra":
		return "fr"
	case "deu":
		return "de"
	case "ita":
		return "it"
	case "por":
		return "pt"
	case "nld":
		return "nl"
	case "rus":
		return "ru"
	case "jpn":
		return "ja"
	case "chi_sim", "chi_tra":
		return "zh"
	default:
		if len(code) == 2 {
			return code
		}
		return "und"
	}
}
