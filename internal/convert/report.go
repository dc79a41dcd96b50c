package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/vidoc/internal/assemble"
	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/video"
)

// ReportFile is the analysis report name.
const ReportFile = "frame_analysis.json"

// Report is the frame analysis written after every run.
type Report struct {
	RunID       string      `json:"run_id"`
	Source      string      `json:"source"`
	GeneratedAt time.Time   `json:"generated_at"`
	Video       *video.Info `json:"video,omitempty"`

	TotalFrames   int `json:"total_frames"`
	KeptFrames    int `json:"kept_frames"`
	IgnoredFrames int `json:"ignored_frames"`
	DecodeGaps    int `json:"decode_gaps"`
	Transients    int `json:"absorbed_transients"`

	Pages             int `json:"pages"`
	UniquePages       int `json:"unique_pages"`
	DuplicatePages    int `json:"duplicate_pages"`
	PartialDuplicates int `json:"partial_duplicates"`

	// Distances maps a hash distance in bits to how many frames were that
	// far from their open page. Zero buckets are omitted.
	Distances map[int]int `json:"distances"`

	Stats           assemble.Stats            `json:"stats"`
	OCR             *ocr.Stats                `json:"ocr,omitempty"`
	Failures        []types.Failure           `json:"failures"`
	FailureCounts   map[types.FailureKind]int `json:"failure_counts"`
	DroppedFailures int                       `json:"dropped_failures,omitempty"`

	DurationSeconds float64 `json:"duration_seconds"`
}

func newReport(res *Result, info *video.Info, failures *types.FailureLog) Report {
	s := res.Stats
	r := Report{
		RunID:             res.RunID,
		Source:            res.Input,
		GeneratedAt:       time.Now().UTC(),
		Video:             info,
		TotalFrames:       s.FramesRead,
		KeptFrames:        res.FramesKept,
		IgnoredFrames:     s.Detector.Ignored,
		DecodeGaps:        s.DecodeGaps,
		Transients:        s.Detector.Transients,
		Pages:             s.Pages,
		UniquePages:       s.UniquePages,
		DuplicatePages:    s.DuplicatePages,
		PartialDuplicates: s.PartialDuplicates,
		Distances:         map[int]int{},
		Stats:             s,
		OCR:               res.OCR,
		DurationSeconds:   res.Duration.Seconds(),
	}
	for d, n := range s.Detector.Distances {
		if n > 0 {
			r.Distances[d] = n
		}
	}
	r.Failures, r.FailureCounts, r.DroppedFailures = failures.Snapshot()
	return r
}

// writeReport writes analysis/frame_analysis.json.
func writeReport(dir string, res *Result, info *video.Info, failures *types.FailureLog) (string, error) {
	data, err := json.MarshalIndent(newReport(res, info, failures), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis report: %w", err)
	}
	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write analysis report: %w", err)
	}
	return path, nil
}

// LoadReport reads a frame analysis report.
func LoadReport(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return r, nil
}
