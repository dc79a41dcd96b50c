package ocr

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/testutil"
	"github.com/jackzampolin/vidoc/internal/types"
)

const chatCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop",
    "message": {"role": "assistant", "content": "  Chapter One\r\nIt was a dark night.\n"}}],
  "usage": {"prompt_tokens": 120, "completion_tokens": 9, "total_tokens": 129}
}`

func TestOpenAIEngineRecognize(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion))
	}))
	defer server.Close()

	engine, err := NewOpenAIEngine(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, OpenAIName, engine.Name())

	text, err := engine.Recognize(context.Background(), testutil.Blank(32, 16), "fra")
	require.NoError(t, err)
	assert.Equal(t, "Chapter One\nIt was a dark night.", text)

	assert.Equal(t, DefaultOpenAIModel, payload["model"])
	messages, ok := payload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	user := messages[1].(map[string]any)
	assert.Equal(t, "user", user["role"])
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].(map[string]any)["text"], "fra")
	img := parts[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	url := img["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestOpenAIEngineErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		retryAfter  string
		rateLimited bool
		recoverable bool
	}{
		{"rate limited", http.StatusTooManyRequests, "3", true, true},
		{"server error", http.StatusBadGateway, "", false, true},
		{"bad key", http.StatusUnauthorized, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error","param":"","code":"x"}}`))
			}))
			defer server.Close()

			engine, err := NewOpenAIEngine(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = engine.Recognize(context.Background(), testutil.Blank(8, 8), "")
			require.Error(t, err)
			rle, ok := IsRateLimitError(err)
			assert.Equal(t, tt.rateLimited, ok)
			if ok {
				assert.Equal(t, 3*time.Second, rle.RetryAfter)
				assert.Equal(t, http.StatusTooManyRequests, rle.StatusCode)
			}
			assert.Equal(t, tt.recoverable, retry.IsRecoverable(err))
		})
	}
}

func TestOpenAIEngineRequiresKey(t *testing.T) {
	_, err := NewOpenAIEngine(OpenAIConfig{APIKey: "  "})
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		cfg      EngineConfig
		wantName string
		wantErr  error
	}{
		{"none", EngineConfig{Kind: KindNone}, "", nil},
		{"empty", EngineConfig{}, "", nil},
		{"openai", EngineConfig{Kind: KindOpenAI, OpenAI: OpenAIConfig{APIKey: "k"}}, OpenAIName, nil},
		{"unknown", EngineConfig{Kind: "abbyy"}, "", types.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Open(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantName == "" {
				assert.Nil(t, e)
				return
			}
			require.NotNil(t, e)
			assert.Equal(t, tt.wantName, e.Name())
			assert.NoError(t, CloseEngine(e))
		})
	}
}

func TestTesseractError(t *testing.T) {
	err := tesseractError(1, "Error opening data file\nFailed loading language 'xyz'\n")
	assert.False(t, retry.IsRecoverable(err))
	assert.Contains(t, err.Error(), "Failed loading language")

	err = tesseractError(2, "  boom ")
	assert.True(t, retry.IsRecoverable(err))
	assert.Equal(t, "tesseract exited 2: boom", err.Error())

	assert.Equal(t, []string{"stdin", "stdout", "-l", "eng", "--psm", "6"}, tesseractArgs("eng", DefaultPageSegMode))
}

func TestTesseractEngine(t *testing.T) {
	testutil.RequireBinary(t, "tesseract")

	engine, err := NewTesseractEngine(TesseractConfig{})
	require.NoError(t, err)
	assert.Equal(t, TesseractName, engine.Name())

	text, err := engine.Recognize(context.Background(), testutil.Blank(200, 60), DefaultLanguage)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(text))

	_, err = engine.Recognize(context.Background(), testutil.Blank(200, 60), "no-such-language")
	require.Error(t, err)
	assert.False(t, retry.IsRecoverable(err))
}

func TestDockerEngine(t *testing.T) {
	if os.Getenv("VIDOC_DOCKER_OCR") == "" {
		t.Skip("set VIDOC_DOCKER_OCR=1 to run the containerized ocr test")
	}
	testutil.DockerClient(t)

	engine, err := NewDockerEngine(DockerConfig{
		ContainerName: testutil.UniqueContainerName(t, "vidoc-ocr"),
		Labels:        testutil.ContainerLabels(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, err = engine.Recognize(ctx, testutil.Blank(10, 10), "")
	require.Error(t, err, "recognize before start")

	require.NoError(t, engine.Start(ctx))
	t.Cleanup(func() { _ = engine.Remove(context.Background()) })

	text, err := engine.Recognize(ctx, testutil.Blank(200, 60), DefaultLanguage)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(text))
}

func TestEncodePNG(t *testing.T) {
	_, err := EncodePNG(nil)
	require.Error(t, err)
	_, err = EncodePNG(image.NewGray(image.Rect(0, 0, 0, 0)))
	require.Error(t, err)

	data, err := EncodePNG(testutil.Blank(4, 4))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(data[:4]))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter(" 1.5 "))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestRateLimiter(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.Nil(t, NewRateLimiter(0))
	assert.True(t, nilLimiter.TryConsume())
	assert.NoError(t, nilLimiter.Wait(context.Background()))

	rl := NewRateLimiter(2)
	assert.True(t, rl.TryConsume())
	assert.True(t, rl.TryConsume())
	assert.False(t, rl.TryConsume())
	status := rl.Status()
	assert.Equal(t, 2, status.TokensLimit)
	assert.Equal(t, int64(2), status.TotalConsumed)
	assert.Positive(t, status.TimeUntilToken)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)

	fast := NewRateLimiter(6000)
	fast.Throttled(time.Second)
	assert.False(t, fast.TryConsume())
	assert.False(t, fast.Status().LastThrottled.IsZero())
	require.NoError(t, fast.Wait(context.Background()))
	assert.Positive(t, fast.Status().TotalWaited)
}
