package convert

import (
	"github.com/jackzampolin/vidoc/internal/assemble"
	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/video"
)

// Progress observes a conversion. Frame is called from the decoding
// goroutine; the other methods from the caller of Run.
type Progress interface {
	// Start is called once before decoding; info may be nil.
	Start(info *video.Info)
	Frame()
	Page(p *types.PageRecord)
	Finish()
}

// NopProgress ignores every event.
type NopProgress struct{}

func (NopProgress) Start(*video.Info)      {}
func (NopProgress) Frame()                 {}
func (NopProgress) Page(*types.PageRecord) {}
func (NopProgress) Finish()                {}

// withProgress chains a frame counter onto the engine hooks.
func withProgress(h assemble.Hooks, p Progress) assemble.Hooks {
	onFrame := h.OnFrame
	h.OnFrame = func(f types.Frame) {
		if onFrame != nil {
			onFrame(f)
		}
		p.Frame()
	}
	return h
}
