package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the vidoc home directory.
	DefaultDirName = ".vidoc"

	// InboxDirName is the subdirectory watched for new videos.
	InboxDirName = "inbox"

	// ArchiveDirName is the subdirectory converted videos are moved to.
	ArchiveDirName = "archive"

	// OutputDirName is the subdirectory holding one output tree per video.
	OutputDirName = "output"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the vidoc home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.vidoc).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// InboxPath returns the watched inbox directory.
func (d *Dir) InboxPath() string {
	return filepath.Join(d.path, InboxDirName)
}

// ArchivePath returns the archive directory.
func (d *Dir) ArchivePath() string {
	return filepath.Join(d.path, ArchiveDirName)
}

// OutputPath returns the directory holding per-video output trees.
func (d *Dir) OutputPath() string {
	return filepath.Join(d.path, OutputDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.InboxPath(), d.ArchivePath(), d.OutputPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// VideoOutputDir returns the output directory for a video, named after the
// file without its extension.
func (d *Dir) VideoOutputDir(videoPath string) string {
	base := filepath.Base(videoPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		name = base
	}
	return filepath.Join(d.OutputPath(), name)
}

// ArchiveFilePath returns where a converted video is moved to. An existing
// file with the same name is not overwritten; a numeric suffix is added.
func (d *Dir) ArchiveFilePath(videoPath string) string {
	return UniqueFile(d.ArchivePath(), filepath.Base(videoPath))
}

// UniqueFile returns dir/name, or dir/name_N.ext for the first N not taken.
func UniqueFile(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

// Resolve returns dir when set, otherwise fallback. It resolves the
// configurable watch directories against the home layout.
func Resolve(dir, fallback string) string {
	if dir != "" {
		return dir
	}
	return fallback
}
