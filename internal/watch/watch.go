// Package watch converts videos as they appear in an inbox directory and
// moves them to an archive once converted.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/jackzampolin/vidoc/internal/home"
)

// FailedDirName is the archive subdirectory for videos that failed to convert.
const FailedDirName = "failed"

// DefaultSettle is how long a file must stop growing before conversion.
const DefaultSettle = 2 * time.Second

// maxSettleChecks bounds how long a still-growing file is waited for.
const maxSettleChecks = 150

// VideoExts are the file extensions picked up from the inbox.
var VideoExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true,
	".avi": true, ".m4v": true, ".mpg": true, ".mpeg": true,
}

var errGrowing = errors.New("file still growing")

// ConvertFunc converts one settled video.
type ConvertFunc func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	Inbox   string
	Archive string
	Settle  time.Duration
	Convert ConvertFunc
	Logger  *slog.Logger
}

// Watcher processes inbox files one at a time in arrival order.
type Watcher struct {
	inbox   string
	archive string
	convert ConvertFunc
	logger  *slog.Logger
	settle  atomic.Int64

	mu      sync.Mutex
	pending map[string]bool
	queue   chan string

	processed atomic.Int64
	failed    atomic.Int64
}

// New validates cfg and creates the inbox and archive directories.
func New(cfg Config) (*Watcher, error) {
	if cfg.Inbox == "" || cfg.Archive == "" {
		return nil, fmt.Errorf("inbox and archive directories are required")
	}
	if cfg.Convert == nil {
		return nil, fmt.Errorf("convert function is required")
	}
	for _, dir := range []string{cfg.Inbox, cfg.Archive, filepath.Join(cfg.Archive, FailedDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		inbox:   cfg.Inbox,
		archive: cfg.Archive,
		convert: cfg.Convert,
		logger:  logger.With("component", "watch"),
		pending: make(map[string]bool),
		queue:   make(chan string, 256),
	}
	w.SetSettle(cfg.Settle)
	return w, nil
}

// SetSettle changes the settle time; it applies to the next file.
func (w *Watcher) SetSettle(d time.Duration) {
	if d <= 0 {
		d = DefaultSettle
	}
	w.settle.Store(int64(d))
}

// Counts returns how many videos were converted and how many failed.
func (w *Watcher) Counts() (processed, failed int64) {
	return w.processed.Load(), w.failed.Load()
}

// Run converts files already in the inbox, then watches it until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.inbox); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.inbox, err)
	}

	existing, err := w.scan()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.work(ctx)
	}()

	for _, path := range existing {
		w.enqueue(ctx, path)
	}
	w.logger.Info("watching inbox", "inbox", w.inbox, "archive", w.archive, "queued", len(existing))

	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				<-done
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if isVideo(ev.Name) {
					w.enqueue(ctx, ev.Name)
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				<-done
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// scan lists videos present in the inbox, oldest first.
func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !isVideo(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(w.inbox, e.Name()), info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// enqueue queues path unless it is already pending. It gives up when ctx is
// cancelled while the queue is full.
func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.mu.Lock()
	if w.pending[path] {
		w.mu.Unlock()
		return
	}
	w.pending[path] = true
	w.mu.Unlock()

	select {
	case w.queue <- path:
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
	}
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.process(ctx, path)
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	log := w.logger.With("file", filepath.Base(path))
	if err := w.waitSettled(ctx, path); err != nil {
		if ctx.Err() == nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("file did not settle", "error", err)
		}
		return
	}

	log.Info("converting")
	convErr := w.convert(ctx, path)
	if ctx.Err() != nil {
		// Left in the inbox; the next run picks it up again.
		return
	}

	dir := w.archive
	if convErr != nil {
		w.failed.Add(1)
		dir = filepath.Join(w.archive, FailedDirName)
		log.Error("conversion failed", "error", convErr)
	} else {
		w.processed.Add(1)
	}
	dest := home.UniqueFile(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.Error("failed to archive", "error", err)
		return
	}
	log.Info("archived", "to", dest)
}

// waitSettled blocks until the file size is unchanged across one settle
// interval.
func (w *Watcher) waitSettled(ctx context.Context, path string) error {
	settle := time.Duration(w.settle.Load())
	last := int64(-1)
	return retry.Do(
		func() error {
			info, err := os.Stat(path)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("stat: %w", err))
			}
			size := info.Size()
			if size == 0 || size != last {
				last = size
				return errGrowing
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxSettleChecks),
		retry.Delay(settle),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func isVideo(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return VideoExts[strings.ToLower(filepath.Ext(base))]
}
