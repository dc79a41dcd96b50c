package config

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// ErrInvalidKey is returned when a config key contains invalid characters.
var ErrInvalidKey = errors.New("invalid config key")

// Entry is one configuration key with its default and description.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns every configuration key with its default value.
// These seed viper so that each key can be overridden from the environment.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// ===================
		// Segmentation engine
		// ===================
		{
			Key:         "sensitivity",
			Value:       d.Sensitivity,
			Description: "Page split sensitivity in [0,1], mapped to round(s*64) hash bits; smaller splits more",
		},
		{
			Key:         "debounce_window",
			Value:       d.DebounceWindow,
			Description: "Consecutive agreeing changed frames required to confirm a new page",
		},
		{
			Key:         "duplicate_tolerance",
			Value:       d.DuplicateTolerance,
			Description: "Largest page hash distance in bits treated as a repeat of an earlier page",
		},
		{
			Key:         "region_tolerance",
			Value:       d.RegionTolerance,
			Description: "Largest region hash distance in bits treated as a repeated region",
		},
		{
			Key:         "history_size",
			Value:       d.HistorySize,
			Description: "Pages kept in the deduplication history",
		},
		{
			Key:         "table_min_confidence",
			Value:       d.TableMinConfidence,
			Description: "Grid alignment strength required to keep a table candidate",
		},
		{
			Key:         "figure_min_score",
			Value:       d.FigureMinScore,
			Description: "Edge density score required to classify a block as a figure",
		},
		{
			Key:         "workers",
			Value:       d.Workers,
			Description: "Fingerprint and segmentation workers (0 = one per CPU)",
		},

		// ===================
		// Decoding
		// ===================
		{
			Key:         "decode_timeout_seconds",
			Value:       d.DecodeTimeoutSeconds,
			Description: "Seconds to wait for a frame before recording a decode gap",
		},
		{
			Key:         "max_decode_gaps",
			Value:       d.MaxDecodeGaps,
			Description: "Consecutive decode gaps after which the source is ended",
		},
		{
			Key:         "sample_fps",
			Value:       d.SampleFPS,
			Description: "Decimate video input to this frame rate (0 = every frame)",
		},
		{
			Key:         "dir_fps",
			Value:       d.DirFPS,
			Description: "Frame rate assigned to a directory of images",
		},

		// ===================
		// OCR
		// ===================
		{
			Key:         "ocr.engine",
			Value:       d.OCR.Engine,
			Description: "OCR engine: tesseract, docker, openai or none",
		},
		{
			Key:         "ocr.language",
			Value:       d.OCR.Language,
			Description: "OCR language code (tesseract style, e.g. eng, deu)",
		},
		{
			Key:         "ocr.timeout_seconds",
			Value:       d.OCR.TimeoutSeconds,
			Description: "Per-attempt OCR timeout in seconds",
		},
		{
			Key:         "ocr.max_retries",
			Value:       d.OCR.MaxRetries,
			Description: "Retries after a failed OCR attempt",
		},
		{
			Key:         "ocr.rate_limit",
			Value:       d.OCR.RateLimit,
			Description: "OCR requests per minute (0 = unlimited)",
		},
		{
			Key:         "ocr.max_concurrency",
			Value:       d.OCR.MaxConcurrency,
			Description: "Maximum concurrent OCR requests",
		},
		{
			Key:         "ocr.tesseract.binary",
			Value:       d.OCR.Tesseract.Binary,
			Description: "Path or name of the tesseract binary",
		},
		{
			Key:         "ocr.tesseract.page_seg_mode",
			Value:       d.OCR.Tesseract.PageSegMode,
			Description: "Tesseract page segmentation mode",
		},
		{
			Key:         "ocr.docker.image",
			Value:       d.OCR.Docker.Image,
			Description: "Docker image providing tesseract",
		},
		{
			Key:         "ocr.docker.container_name",
			Value:       d.OCR.Docker.ContainerName,
			Description: "Name of the long-lived OCR container",
		},
		{
			Key:         "ocr.openai.model",
			Value:       d.OCR.OpenAI.Model,
			Description: "Vision model used for OCR",
		},
		{
			Key:         "ocr.openai.api_key",
			Value:       d.OCR.OpenAI.APIKey,
			Description: "OpenAI API key (uses environment variable)",
		},
		{
			Key:         "ocr.openai.base_url",
			Value:       d.OCR.OpenAI.BaseURL,
			Description: "OpenAI compatible endpoint (empty = api.openai.com)",
		},

		// ===================
		// Output
		// ===================
		{
			Key:         "output.dir",
			Value:       d.Output.Dir,
			Description: "Output directory; documents go to <dir>/result",
		},
		{
			Key:         "output.formats",
			Value:       d.Output.Formats,
			Description: "Document formats: pdf, md, img, epub",
		},
		{
			Key:         "output.index",
			Value:       d.Output.Index,
			Description: "Write a page index next to the documents",
		},
		{
			Key:         "output.index_format",
			Value:       d.Output.IndexFormat,
			Description: "Page index format: json or yaml",
		},
		{
			Key:         "output.sqlite",
			Value:       d.Output.SQLite,
			Description: "Write a searchable SQLite index (index.db)",
		},

		// ===================
		// Watch
		// ===================
		{
			Key:         "watch.inbox",
			Value:       d.Watch.Inbox,
			Description: "Directory watched for new videos (empty = ~/.vidoc/inbox)",
		},
		{
			Key:         "watch.archive",
			Value:       d.Watch.Archive,
			Description: "Directory converted videos are moved to (empty = ~/.vidoc/archive)",
		},
		{
			Key:         "watch.settle_seconds",
			Value:       d.Watch.SettleSeconds,
			Description: "Seconds a new file must stop growing before it is converted",
		},
	}
}

// GetDefault returns the default entry for a config key, or nil.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	if GetDefault(key) == nil {
		return fmt.Errorf("%w %q", ErrNoDefault, key)
	}
	return nil
}
