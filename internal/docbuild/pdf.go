package docbuild

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	// PDFFile is the PDF document name in the result directory.
	PDFFile = "document.pdf"

	DefaultPDFBatch    = 8
	DefaultJPEGQuality = 85

	// textLayerDesc stamps recognized text invisibly over its region of the
	// page image so the document is searchable. Offsets are in points from the
	// bottom-left page corner.
	textLayerDesc = "font:Helvetica, points:%d, pos:bl, off:%.1f %.1f, sc:1 abs, rot:0, op:0"

	minTextPoints = 4
	maxTextPoints = 24
)

// textStamp is the recognized text of one region in image pixels.
type textStamp struct {
	text       string
	x, y, w, h int
}

// pageText is the text layer of one document page.
type pageText struct {
	width, height int // page image size in pixels
	landscape     bool
	stamps        []textStamp
}

// PDFConfig configures the PDF sink.
type PDFConfig struct {
	Dir         string
	Batch       int // pages staged before appending to the document
	JPEGQuality int
	NoTextLayer bool
	Logger      *slog.Logger
}

// PDFSink appends unique pages to document.pdf as A4 pages, portrait or
// landscape by image aspect, each image fitted and centered. Pages are staged
// as JPEG files and appended in small batches so memory stays bounded.
type PDFSink struct {
	path      string
	stageDir  string
	batch     int
	quality   int
	textLayer bool
	conf      *model.Configuration
	logger    *slog.Logger

	pending   []string
	landscape bool
	pages     int
	texts     map[int]pageText // document page number -> text layer
}

// NewPDFSink creates the staging directory and removes any stale document.
func NewPDFSink(cfg PDFConfig) (*PDFSink, error) {
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultPDFBatch
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	path := filepath.Join(cfg.Dir, PDFFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale pdf: %w", err)
	}
	stage, err := os.MkdirTemp(cfg.Dir, ".pdf-pages-")
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf staging dir: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &PDFSink{
		path:      path,
		stageDir:  stage,
		batch:     cfg.Batch,
		quality:   cfg.JPEGQuality,
		textLayer: !cfg.NoTextLayer,
		conf:      conf,
		logger:    cfg.Logger.With("component", "docbuild", "format", FormatPDF),
		texts:     make(map[int]pageText),
	}, nil
}

// Format returns FormatPDF.
func (s *PDFSink) Format() Format {
	return FormatPDF
}

// WritePage stages the page image. Duplicate pages are skipped.
func (s *PDFSink) WritePage(_ context.Context, p Page) error {
	rec := p.Record
	if rec.IsDuplicate() || rec.Representative == nil {
		return nil
	}
	b := rec.Representative.Bounds()
	landscape := b.Dx() > b.Dy()
	if len(s.pending) > 0 && landscape != s.landscape {
		if err := s.flush(); err != nil {
			return err
		}
	}
	s.landscape = landscape

	staged := filepath.Join(s.stageDir, fmt.Sprintf("page_%05d.jpg", rec.PageID))
	if err := saveJPEG(staged, rec.Representative, s.quality); err != nil {
		return err
	}
	s.pending = append(s.pending, staged)

	pt := pageText{width: b.Dx(), height: b.Dy(), landscape: landscape}
	for _, r := range p.Text.Regions {
		if r.Text != "" {
			pt.stamps = append(pt.stamps, textStamp{
				text: r.Text, x: r.Box.X, y: r.Box.Y, w: r.Box.Width, h: r.Box.Height,
			})
		}
	}
	if len(pt.stamps) > 0 {
		s.texts[s.pages+len(s.pending)] = pt
	}
	if len(s.pending) >= s.batch {
		return s.flush()
	}
	return nil
}

// flush appends staged pages to the document.
func (s *PDFSink) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	form := "A4"
	if s.landscape {
		form = "A4L"
	}
	imp, err := api.Import(fmt.Sprintf("f:%s, pos:c, sc:1.0 rel", form), types.POINTS)
	if err != nil {
		return fmt.Errorf("invalid import description: %w", err)
	}
	if err := api.ImportImagesFile(s.pending, s.path, imp, s.conf); err != nil {
		return fmt.Errorf("failed to append pages: %w", err)
	}
	for _, f := range s.pending {
		_ = os.Remove(f)
	}
	s.pages += len(s.pending)
	s.pending = s.pending[:0]
	return nil
}

// Close appends remaining pages, adds the text layer and verifies the page count.
func (s *PDFSink) Close() ([]string, error) {
	defer os.RemoveAll(s.stageDir)
	if err := s.flush(); err != nil {
		return nil, err
	}
	if s.pages == 0 {
		return nil, nil
	}

	if s.textLayer && len(s.texts) > 0 {
		if err := s.addTextLayer(); err != nil {
			s.logger.Warn("failed to add text layer", "error", err)
		}
	}

	n, err := api.PageCountFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read back pdf: %w", err)
	}
	if n != s.pages {
		return nil, fmt.Errorf("pdf has %d pages, wrote %d", n, s.pages)
	}
	s.logger.Info("pdf written", "path", s.path, "pages", n)
	return []string{s.path}, nil
}

// addTextLayer stamps every page's region texts in a single rewrite of the
// document.
func (s *PDFSink) addTextLayer() error {
	m := make(map[int][]*model.Watermark, len(s.texts))
	for page, pt := range s.texts {
		for _, st := range pt.stamps {
			wm, err := api.TextWatermark(st.text, stampDesc(pt, st), true, false, types.POINTS)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			m[page] = append(m[page], wm)
		}
	}
	return api.AddWatermarksSliceMapFile(s.path, "", m, s.conf)
}

// stampDesc places a region's text over the region as it appears on the A4
// page: the image is fitted and centered, so pixel boxes map through one
// scale factor and a centering offset. PDF y grows upwards.
func stampDesc(pt pageText, st textStamp) string {
	pw, ph := a4Points(pt.landscape)
	scale := min(pw/float64(pt.width), ph/float64(pt.height))
	ox := max(0, (pw-float64(pt.width)*scale)/2)
	oy := max(0, (ph-float64(pt.height)*scale)/2)

	x := ox + float64(st.x)*scale
	y := oy + float64(pt.height-st.y-st.h)*scale

	lines := strings.Count(st.text, "\n") + 1
	points := int(float64(st.h) * scale / float64(lines))
	points = max(minTextPoints, min(maxTextPoints, points))
	return fmt.Sprintf(textLayerDesc, points, x, y)
}

func a4Points(landscape bool) (w, h float64) {
	dim := types.PaperSize["A4"]
	w, h = dim.Width, dim.Height
	if landscape {
		w, h = h, w
	}
	return w, h
}

// Pages returns the number of pages appended so far.
func (s *PDFSink) Pages() int {
	return s.pages
}

func saveJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
