package assemble

import (
	"github.com/jackzampolin/vidoc/internal/detect"
	"github.com/jackzampolin/vidoc/internal/types"
)

// Stats counts what a run has processed so far.
type Stats struct {
	FramesRead int `json:"frames_read"`
	DecodeGaps int `json:"decode_gaps"`

	Pages             int `json:"pages"`
	UniquePages       int `json:"unique_pages"`
	DuplicatePages    int `json:"duplicate_pages"`
	PartialDuplicates int `json:"partial_duplicates"`

	TextRegions      int `json:"text_regions"`
	FigureRegions    int `json:"figure_regions"`
	TableRegions     int `json:"table_regions"`
	Downgraded       int `json:"downgraded_tables"`
	DuplicateRegions int `json:"duplicate_regions"`

	HistoryEvictions int          `json:"history_evictions"`
	Detector         detect.Stats `json:"detector"`
}

func (s *Stats) count(p *types.PageRecord) {
	s.Pages++
	switch p.Dedup.Kind {
	case types.DedupDuplicate:
		s.DuplicatePages++
	case types.DedupPartialDuplicate:
		s.PartialDuplicates++
	default:
		s.UniquePages++
	}
	for _, r := range p.Regions {
		switch r.Kind {
		case types.RegionText:
			s.TextRegions++
		case types.RegionFigure:
			s.FigureRegions++
		case types.RegionTableCandidate:
			s.TableRegions++
		}
		if r.Downgraded {
			s.Downgraded++
		}
		if r.IsDuplicate() {
			s.DuplicateRegions++
		}
	}
}
