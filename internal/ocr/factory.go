package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/vidoc/internal/types"
)

// Engine kinds accepted by Open.
const (
	KindTesseract = TesseractName
	KindDocker    = DockerName
	KindOpenAI    = OpenAIName
	KindNone      = "none"
)

// EngineConfig selects and configures an engine.
type EngineConfig struct {
	Kind      string
	Tesseract TesseractConfig
	Docker    DockerConfig
	OpenAI    OpenAIConfig
	Logger    *slog.Logger
}

// Open constructs the configured engine. It returns a nil engine for KindNone.
// Docker engines are started before being returned.
func Open(ctx context.Context, cfg EngineConfig) (Engine, error) {
	if cfg.Logger != nil {
		cfg.Tesseract.Logger = cfg.Logger
		cfg.Docker.Logger = cfg.Logger
		cfg.OpenAI.Logger = cfg.Logger
	}
	switch cfg.Kind {
	case KindNone, "":
		return nil, nil
	case KindTesseract:
		return NewTesseractEngine(cfg.Tesseract)
	case KindDocker:
		e, err := NewDockerEngine(cfg.Docker)
		if err != nil {
			return nil, err
		}
		if err := e.Start(ctx); err != nil {
			_ = e.Close()
			return nil, err
		}
		return e, nil
	case KindOpenAI:
		return NewOpenAIEngine(cfg.OpenAI)
	default:
		return nil, fmt.Errorf("%w: unknown ocr engine %q", types.ErrInvalidConfig, cfg.Kind)
	}
}

// CloseEngine releases engine resources when it holds any.
func CloseEngine(e Engine) error {
	if c, ok := e.(Closer); ok {
		return c.Close()
	}
	return nil
}
