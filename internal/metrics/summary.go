package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
)

// Summary is a flattened view of a recorder's series, keyed by label value.
type Summary struct {
	FramesRead   int                `json:"frames_read"`
	DecodeGaps   int                `json:"decode_gaps"`
	Pages        map[string]int     `json:"pages"`
	Regions      map[string]int     `json:"regions"`
	OCR          map[string]int     `json:"ocr"`
	OCRRetries   int                `json:"ocr_retries"`
	Outputs      map[string]int     `json:"outputs"`
	StageSeconds map[string]float64 `json:"stage_seconds"`
}

// Summary gathers the current values of every series.
func (r *Recorder) Summary() (Summary, error) {
	s := Summary{
		Pages:        map[string]int{},
		Regions:      map[string]int{},
		OCR:          map[string]int{},
		Outputs:      map[string]int{},
		StageSeconds: map[string]float64{},
	}
	if r == nil {
		return s, nil
	}
	families, err := r.reg.Gather()
	if err != nil {
		return s, fmt.Errorf("failed to gather metrics: %w", err)
	}

	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			switch fam.GetName() {
			case Namespace + "_frames_read":
				s.FramesRead = int(m.GetGauge().GetValue())
			case Namespace + "_decode_gaps":
				s.DecodeGaps = int(m.GetGauge().GetValue())
			case Namespace + "_pages_total":
				s.Pages[label(m, "dedup")] += int(m.GetCounter().GetValue())
			case Namespace + "_regions_total":
				s.Regions[label(m, "kind")] += int(m.GetCounter().GetValue())
			case Namespace + "_ocr_regions_total":
				s.OCR[label(m, "status")] += int(m.GetCounter().GetValue())
			case Namespace + "_ocr_retries_total":
				s.OCRRetries = int(m.GetCounter().GetValue())
			case Namespace + "_outputs_total":
				s.Outputs[label(m, "format")] += int(m.GetCounter().GetValue())
			case Namespace + "_stage_duration_seconds":
				s.StageSeconds[label(m, "stage")] += m.GetHistogram().GetSampleSum()
			}
		}
	}
	return s, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
