package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/avast/retry-go/v4"
)

const (
	TesseractName          = "tesseract"
	DefaultTesseractBinary = "tesseract"
	// DefaultPageSegMode treats each crop as a single uniform block of text.
	DefaultPageSegMode = 6
)

// TesseractConfig configures the local tesseract engine.
type TesseractConfig struct {
	Binary      string
	PageSegMode int
	Logger      *slog.Logger
}

// TesseractEngine runs the tesseract CLI once per region, streaming PNG on stdin.
type TesseractEngine struct {
	binary string
	psm    int
	logger *slog.Logger
}

// NewTesseractEngine resolves the tesseract binary.
func NewTesseractEngine(cfg TesseractConfig) (*TesseractEngine, error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultTesseractBinary
	}
	if cfg.PageSegMode <= 0 {
		cfg.PageSegMode = DefaultPageSegMode
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("tesseract not found (%s): %w", cfg.Binary, err)
	}
	return &TesseractEngine{
		binary: path,
		psm:    cfg.PageSegMode,
		logger: cfg.Logger.With("component", "ocr", "engine", TesseractName),
	}, nil
}

// Name returns the engine identifier.
func (e *TesseractEngine) Name() string {
	return TesseractName
}

// Recognize runs tesseract on img.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, lang string) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", retry.Unrecoverable(err)
	}
	if lang == "" {
		lang = DefaultLanguage
	}
	cmd := exec.CommandContext(ctx, e.binary, tesseractArgs(lang, e.psm)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.logger.Debug("tesseract failed", "exit_code", exitErr.ExitCode(), "lang", lang)
			return "", tesseractError(exitErr.ExitCode(), stderr.String())
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return normalizeText(stdout.String()), nil
}

func tesseractArgs(lang string, psm int) []string {
	return []string{"stdin", "stdout", "-l", lang, "--psm", fmt.Sprint(psm)}
}

// tesseractError marks a missing language pack as unrecoverable.
func tesseractError(code int, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if strings.Contains(msg, "Failed loading language") {
		return retry.Unrecoverable(fmt.Errorf("tesseract: %s", msg))
	}
	return fmt.Errorf("tesseract exited %d: %s", code, msg)
}

var _ Engine = (*TesseractEngine)(nil)
