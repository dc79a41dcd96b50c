package config

import (
	"runtime"
	"time"

	"github.com/jackzampolin/vidoc/internal/assemble"
	"github.com/jackzampolin/vidoc/internal/dedup"
	"github.com/jackzampolin/vidoc/internal/detect"
	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/segment"
	"github.com/jackzampolin/vidoc/internal/video"
)

// Config holds vidoc configuration.
// Stored at: ./config.yaml or ~/.vidoc/config.yaml
type Config struct {
	// Segmentation engine
	Sensitivity        float64 `mapstructure:"sensitivity" yaml:"sensitivity"`
	DebounceWindow     int     `mapstructure:"debounce_window" yaml:"debounce_window"`
	DuplicateTolerance int     `mapstructure:"duplicate_tolerance" yaml:"duplicate_tolerance"`
	RegionTolerance    int     `mapstructure:"region_tolerance" yaml:"region_tolerance"`
	HistorySize        int     `mapstructure:"history_size" yaml:"history_size"`
	TableMinConfidence float64 `mapstructure:"table_min_confidence" yaml:"table_min_confidence"`
	FigureMinScore     float64 `mapstructure:"figure_min_score" yaml:"figure_min_score"`
	Workers            int     `mapstructure:"workers" yaml:"workers"` // 0 = one per CPU

	// Decoding
	DecodeTimeoutSeconds float64 `mapstructure:"decode_timeout_seconds" yaml:"decode_timeout_seconds"`
	MaxDecodeGaps        int     `mapstructure:"max_decode_gaps" yaml:"max_decode_gaps"`
	SampleFPS            float64 `mapstructure:"sample_fps" yaml:"sample_fps"` // 0 = every frame
	DirFPS               float64 `mapstructure:"dir_fps" yaml:"dir_fps"`       // frame rate of image directories

	OCR    OCRCfg    `mapstructure:"ocr" yaml:"ocr"`
	Output OutputCfg `mapstructure:"output" yaml:"output"`
	Watch  WatchCfg  `mapstructure:"watch" yaml:"watch"`
}

// OCRCfg configures text recognition.
type OCRCfg struct {
	Engine         string  `mapstructure:"engine" yaml:"engine"` // tesseract, docker, openai, none
	Language       string  `mapstructure:"language" yaml:"language"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	RateLimit      int     `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute, 0 = unlimited
	MaxConcurrency int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`

	Tesseract TesseractCfg `mapstructure:"tesseract" yaml:"tesseract"`
	Docker    DockerCfg    `mapstructure:"docker" yaml:"docker"`
	OpenAI    OpenAICfg    `mapstructure:"openai" yaml:"openai"`
}

// TesseractCfg configures the local tesseract binary.
type TesseractCfg struct {
	Binary      string `mapstructure:"binary" yaml:"binary"`
	PageSegMode int    `mapstructure:"page_seg_mode" yaml:"page_seg_mode"`
}

// DockerCfg configures the tesseract container.
type DockerCfg struct {
	Image         string `mapstructure:"image" yaml:"image"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// OpenAICfg configures the vision model engine.
type OpenAICfg struct {
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// OutputCfg configures what a run writes.
type OutputCfg struct {
	Dir         string   `mapstructure:"dir" yaml:"dir"`
	Formats     []string `mapstructure:"formats" yaml:"formats"` // pdf, md, img, epub
	Index       bool     `mapstructure:"index" yaml:"index"`
	IndexFormat string   `mapstructure:"index_format" yaml:"index_format"` // json or yaml
	SQLite      bool     `mapstructure:"sqlite" yaml:"sqlite"`
}

// WatchCfg configures `vidoc watch`. Empty directories resolve under the
// home directory.
type WatchCfg struct {
	Inbox         string  `mapstructure:"inbox" yaml:"inbox"`
	Archive       string  `mapstructure:"archive" yaml:"archive"`
	SettleSeconds float64 `mapstructure:"settle_seconds" yaml:"settle_seconds"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sensitivity:        0.15,
		DebounceWindow:     3,
		DuplicateTolerance: dedup.DefaultDuplicateTolerance,
		RegionTolerance:    dedup.DefaultRegionTolerance,
		HistorySize:        dedup.DefaultHistorySize,
		TableMinConfidence: segment.DefaultTableMinConfidence,
		FigureMinScore:     segment.DefaultFigureMinScore,
		Workers:            0,

		DecodeTimeoutSeconds: video.DefaultDecodeTimeout.Seconds(),
		MaxDecodeGaps:        video.DefaultMaxGaps,
		DirFPS:               1,

		OCR: OCRCfg{
			Engine:         ocr.KindTesseract,
			Language:       ocr.DefaultLanguage,
			TimeoutSeconds: ocr.DefaultTimeout.Seconds(),
			MaxRetries:     ocr.DefaultMaxRetries,
			MaxConcurrency: ocr.DefaultMaxConcurrency,
			Tesseract: TesseractCfg{
				Binary:      ocr.DefaultTesseractBinary,
				PageSegMode: ocr.DefaultPageSegMode,
			},
			Docker: DockerCfg{
				Image:         ocr.DefaultDockerImage,
				ContainerName: ocr.DefaultContainerName,
			},
			OpenAI: OpenAICfg{
				Model:  ocr.DefaultOpenAIModel,
				APIKey: "${OPENAI_API_KEY}",
			},
		},
		Output: OutputCfg{
			Dir:         "output",
			Formats:     []string{"img"},
			IndexFormat: "json",
		},
		Watch: WatchCfg{
			SettleSeconds: 2,
		},
	}
}

// EngineConfig converts the segmentation settings for assemble.New.
func (c *Config) EngineConfig() assemble.Config {
	return assemble.Config{
		Detector: detect.Config{
			Sensitivity:    c.Sensitivity,
			DebounceWindow: c.DebounceWindow,
		},
		Segment: segment.Config{
			TableMinConfidence: c.TableMinConfidence,
			FigureMinScore:     c.FigureMinScore,
		},
		Dedup: dedup.Config{
			DuplicateTolerance: c.DuplicateTolerance,
			RegionTolerance:    c.RegionTolerance,
			MinRegionIoU:       dedup.DefaultMinRegionIoU,
			HistorySize:        c.HistorySize,
		},
		Workers: c.workers(),
	}
}

func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// VideoOptions converts the decoding settings for video.Open.
func (c *Config) VideoOptions() video.Options {
	return video.Options{
		SampleFPS:     c.SampleFPS,
		DirFPS:        c.DirFPS,
		DecodeTimeout: seconds(c.DecodeTimeoutSeconds),
		MaxGaps:       c.MaxDecodeGaps,
	}
}

// OCREngineConfig converts the engine selection for ocr.Open. The OpenAI
// key has its ${ENV_VAR} references resolved.
func (c *Config) OCREngineConfig() ocr.EngineConfig {
	return ocr.EngineConfig{
		Kind: c.OCR.Engine,
		Tesseract: ocr.TesseractConfig{
			Binary:      c.OCR.Tesseract.Binary,
			PageSegMode: c.OCR.Tesseract.PageSegMode,
		},
		Docker: ocr.DockerConfig{
			Image:         c.OCR.Docker.Image,
			ContainerName: c.OCR.Docker.ContainerName,
			PageSegMode:   c.OCR.Tesseract.PageSegMode,
		},
		OpenAI: ocr.OpenAIConfig{
			APIKey:  ResolveEnvVars(c.OCR.OpenAI.APIKey),
			Model:   c.OCR.OpenAI.Model,
			BaseURL: c.OCR.OpenAI.BaseURL,
		},
	}
}

// RunnerConfig converts the recognition limits for ocr.NewRunner.
func (c *Config) RunnerConfig(engine ocr.Engine) ocr.RunnerConfig {
	return ocr.RunnerConfig{
		Engine:         engine,
		Language:       c.OCR.Language,
		Timeout:        seconds(c.OCR.TimeoutSeconds),
		MaxRetries:     c.OCR.MaxRetries,
		RateLimit:      c.OCR.RateLimit,
		MaxConcurrency: c.OCR.MaxConcurrency,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
