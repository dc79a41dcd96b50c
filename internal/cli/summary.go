package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/jackzampolin/vidoc/internal/convert"
	"github.com/jackzampolin/vidoc/internal/index"
	"github.com/jackzampolin/vidoc/internal/video"
)

var (
	heading = color.New(color.Bold)
	good    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	dim     = color.New(color.Faint)
)

// DisableColor turns off ANSI colors, for --no-color or non-terminal output.
func DisableColor() {
	color.NoColor = true
}

// PrintResult writes a human readable summary of a conversion.
func PrintResult(w io.Writer, res *convert.Result) {
	s := res.Stats
	good.Fprintf(w, "✓ %s\n", res.Input)
	fmt.Fprintf(w, "  frames   %d read, %d kept, %d ignored, %d decode gaps\n",
		s.FramesRead, res.FramesKept, s.Detector.Ignored, s.DecodeGaps)
	fmt.Fprintf(w, "  pages    %d (%d unique, %d duplicate, %d partial)\n",
		s.Pages, s.UniquePages, s.DuplicatePages, s.PartialDuplicates)
	fmt.Fprintf(w, "  regions  %d text, %d figure, %d table\n",
		s.TextRegions, s.FigureRegions, s.TableRegions)
	if res.OCR != nil {
		line := fmt.Sprintf("  ocr      %d/%d regions recognized, %d retries\n",
			res.OCR.Recognized, res.OCR.Regions, res.OCR.Retries)
		if res.OCR.Failed > 0 {
			warn.Fprint(w, line)
		} else {
			fmt.Fprint(w, line)
		}
	}
	if n := failureTotal(res.Failures); n > 0 {
		warn.Fprintf(w, "  failures %d recorded, see %s\n", n,
			filepath.Join(filepath.Dir(res.ResultDir), convert.AnalysisDir, convert.ReportFile))
	}
	heading.Fprintln(w, "  outputs")
	for _, o := range res.Outputs {
		fmt.Fprintf(w, "    %s\n", o)
	}
	dim.Fprintf(w, "  run %s in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
}

// PrintInfo writes probed video metadata.
func PrintInfo(w io.Writer, info *video.Info) {
	heading.Fprintln(w, info.Path)
	fmt.Fprintf(w, "  codec     %s\n", info.Codec)
	fmt.Fprintf(w, "  size      %dx%d\n", info.Width, info.Height)
	fmt.Fprintf(w, "  fps       %.3f\n", info.FPS)
	fmt.Fprintf(w, "  duration  %s\n", info.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  frames    %d\n", info.Frames)
}

// PrintHits writes search hits, one per line.
func PrintHits(w io.Writer, hits []index.Hit) {
	if len(hits) == 0 {
		dim.Fprintln(w, "no matches")
		return
	}
	for _, h := range hits {
		heading.Fprintf(w, "page %d", h.PageID)
		dim.Fprintf(w, " [%s-%s] %s #%d\n", clock(h.StartSeconds), clock(h.EndSeconds), h.Kind, h.RegionIndex)
		fmt.Fprintf(w, "  %s\n", h.Snippet)
	}
}

func failureTotal[K comparable](m map[K]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// clock formats seconds as m:ss.
func clock(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
