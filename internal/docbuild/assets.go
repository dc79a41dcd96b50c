package docbuild

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/jackzampolin/vidoc/internal/types"
)

// CropDir holds region crops under the result directory.
const CropDir = "crops"

// Assets writes page and region rasters to the result directory once each,
// so several sinks can reference the same files.
type Assets struct {
	dir string

	mu      sync.Mutex
	written map[string]bool
}

// NewAssets creates an asset store rooted at dir.
func NewAssets(dir string) *Assets {
	return &Assets{dir: dir, written: make(map[string]bool)}
}

// Dir returns the root directory.
func (a *Assets) Dir() string {
	return a.dir
}

// PageName is the file name of a page's representative frame.
func PageName(pageID int) string {
	return fmt.Sprintf("frame_%05d.png", pageID)
}

// RegionName is the path of a region crop relative to the result directory.
func RegionName(pageID, regionIndex int) string {
	return filepath.ToSlash(filepath.Join(CropDir, fmt.Sprintf("page_%05d_region_%02d.png", pageID, regionIndex)))
}

// Page writes the representative frame and returns its relative path.
func (a *Assets) Page(rec *types.PageRecord) (string, error) {
	name := PageName(rec.PageID)
	return name, a.write(name, rec.Representative)
}

// Region writes a region crop and returns its relative path.
func (a *Assets) Region(rec *types.PageRecord, r types.Region) (string, error) {
	name := RegionName(rec.PageID, r.Index)
	if rec.Representative == nil {
		return name, fmt.Errorf("page %d has no representative frame", rec.PageID)
	}
	return name, a.write(name, types.Crop(rec.Representative, r.Box))
}

// Written returns the relative paths written so far.
func (a *Assets) Written() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.written))
	for k := range a.written {
		out = append(out, k)
	}
	return out
}

func (a *Assets) write(name string, img image.Image) error {
	if img == nil {
		return fmt.Errorf("%s: no image", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.written[name] {
		return nil
	}
	path := filepath.Join(a.dir, filepath.FromSlash(name))
	if err := savePNG(path, img); err != nil {
		return err
	}
	a.written[name] = true
	return nil
}

func savePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
