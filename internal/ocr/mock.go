package ocr

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// MockEngine is an Engine for tests.
type MockEngine struct {
	// Configurable behavior
	Latency    time.Duration
	Text       string
	ShouldFail bool
	FailFirst  int // fail the first N calls, then succeed
	FailAfter  int // fail every call after N (0 = never)
	RetryAfter time.Duration

	// Func overrides Text when set.
	Func func(img image.Image, lang string) (string, error)

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewMockEngine returns an engine that answers text after a short latency.
func NewMockEngine(text string) *MockEngine {
	return &MockEngine{Latency: time.Millisecond, Text: text}
}

// Name returns the engine identifier.
func (m *MockEngine) Name() string {
	return MockName
}

// Calls returns the number of Recognize calls.
func (m *MockEngine) Calls() int {
	return int(m.calls.Load())
}

// PeakConcurrency returns the most calls observed in flight at once.
func (m *MockEngine) PeakConcurrency() int {
	return int(m.peak.Load())
}

// Recognize answers according to the configured behavior.
func (m *MockEngine) Recognize(ctx context.Context, img image.Image, lang string) (string, error) {
	n := m.calls.Add(1)
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if cur <= p || m.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	switch {
	case m.ShouldFail:
		return "", fmt.Errorf("mock engine configured to fail")
	case int(n) <= m.FailFirst:
		if m.RetryAfter > 0 {
			return "", &RateLimitError{Message: "mock rate limited", RetryAfter: m.RetryAfter, StatusCode: 429}
		}
		return "", fmt.Errorf("mock engine failed call %d", n)
	case m.FailAfter > 0 && int(n) > m.FailAfter:
		return "", fmt.Errorf("mock engine failed after %d calls", m.FailAfter)
	}
	if m.Func != nil {
		return m.Func(img, lang)
	}
	return m.Text, nil
}

var _ Engine = (*MockEngine)(nil)
