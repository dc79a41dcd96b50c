package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	DefaultOpenAIModel = "gpt-4o-mini"

	openAIPrompt = "Transcribe the text in this image exactly as written. " +
		"Preserve line breaks. Output only the transcription, with no commentary. " +
		"If the image contains no legible text, output nothing."
)

// OpenAIConfig configures the vision-model engine.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string        // optional (tests, compatible gateways)
	Timeout    time.Duration // HTTP timeout
	MaxTokens  int
	HTTPClient *http.Client // optional (tests)
	Logger     *slog.Logger
}

// OpenAIEngine transcribes regions with an OpenAI vision chat model.
type OpenAIEngine struct {
	model     string
	maxTokens int
	client    openai.Client
	logger    *slog.Logger
}

// NewOpenAIEngine creates the engine. Retries are owned by the Runner, so the
// SDK's own retry loop is disabled.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEngine{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    openai.NewClient(opts...),
		logger:    cfg.Logger.With("component", "ocr", "engine", OpenAIName),
	}, nil
}

// Name returns the engine identifier.
func (e *OpenAIEngine) Name() string {
	return OpenAIName
}

// Model returns the configured model.
func (e *OpenAIEngine) Model() string {
	return e.model
}

// Recognize sends img as a data URL and returns the model's transcription.
func (e *OpenAIEngine) Recognize(ctx context.Context, img image.Image, lang string) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", retry.Unrecoverable(err)
	}
	if lang == "" {
		lang = DefaultLanguage
	}
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openAIPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(fmt.Sprintf("Language hint (tesseract code): %s", lang)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
			}),
		},
		MaxCompletionTokens: openai.Int(int64(e.maxTokens)),
		Temperature:         openai.Float(0),
	})
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	e.logger.Debug("region transcribed",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return normalizeText(resp.Choices[0].Message.Content), nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return &RateLimitError{
			Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
			RetryAfter: retryAfter,
			StatusCode: apiErr.StatusCode,
		}
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden,
		apiErr.StatusCode == http.StatusBadRequest:
		return retry.Unrecoverable(fmt.Errorf("OpenAI OCR error (status %d): %s", apiErr.StatusCode, apiErr.Message))
	case apiErr.Message != "":
		return fmt.Errorf("OpenAI OCR error (status %d): %s", apiErr.StatusCode, apiErr.Message)
	default:
		return fmt.Errorf("OpenAI OCR error (status %d)", apiErr.StatusCode)
	}
}

var _ Engine = (*OpenAIEngine)(nil)
