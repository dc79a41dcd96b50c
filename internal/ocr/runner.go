package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jackzampolin/vidoc/internal/types"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 2
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultMaxConcurrency = 4
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Engine         Engine
	Language       string
	Timeout        time.Duration // per attempt
	MaxRetries     int           // attempts = MaxRetries + 1
	RetryDelay     time.Duration // base for exponential backoff
	RateLimit      int           // requests per minute, 0 = unlimited
	MaxConcurrency int
	Failures       *types.FailureLog
	Logger         *slog.Logger
}

// Validate checks the runner configuration.
func (c RunnerConfig) Validate() error {
	if c.Engine == nil {
		return fmt.Errorf("%w: ocr engine is required", types.ErrInvalidConfig)
	}
	if c.Timeout < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("%w: ocr durations must not be negative", types.ErrInvalidConfig)
	}
	if c.MaxRetries < 0 || c.RateLimit < 0 || c.MaxConcurrency < 0 {
		return fmt.Errorf("%w: ocr limits must not be negative", types.ErrInvalidConfig)
	}
	return nil
}

// RegionText is the recognition outcome for one region.
type RegionText struct {
	RegionIndex int               `json:"region_index" yaml:"region_index"`
	Box         types.BoundingBox `json:"box" yaml:"box"`
	Text        string            `json:"text" yaml:"text"`
	Attempts    int               `json:"attempts" yaml:"attempts"`
	Failed      bool              `json:"failed,omitempty" yaml:"failed,omitempty"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// PageText collects the recognized regions of one page in region order.
type PageText struct {
	PageID  int          `json:"page_id" yaml:"page_id"`
	Regions []RegionText `json:"regions" yaml:"regions"`
}

// Text joins the non-empty region texts with blank lines.
func (p PageText) Text() string {
	parts := make([]string, 0, len(p.Regions))
	for _, r := range p.Regions {
		if r.Text != "" {
			parts = append(parts, r.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Region returns the result for a region index.
func (p PageText) Region(index int) (RegionText, bool) {
	for _, r := range p.Regions {
		if r.RegionIndex == index {
			return r, true
		}
	}
	return RegionText{}, false
}

// Stats counts runner outcomes.
type Stats struct {
	Regions    int64             `json:"regions"`
	Recognized int64             `json:"recognized"`
	Failed     int64             `json:"failed"`
	Retries    int64             `json:"retries"`
	RateLimit  RateLimiterStatus `json:"rate_limit"`
}

// Runner recognizes page regions with retries, a per-attempt timeout, a
// request rate limit and a bound on concurrent engine calls. A region that
// cannot be recognized yields empty text and a recorded failure; it never
// fails the page.
type Runner struct {
	engine     Engine
	lang       string
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	limiter    *RateLimiter
	sem        *semaphore.Weighted
	failures   *types.FailureLog
	logger     *slog.Logger

	regions    atomic.Int64
	recognized atomic.Int64
	failed     atomic.Int64
	retries    atomic.Int64
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Failures == nil {
		cfg.Failures = types.NewFailureLog(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		engine:     cfg.Engine,
		lang:       cfg.Language,
		timeout:    cfg.Timeout,
		attempts:   uint(cfg.MaxRetries + 1),
		retryDelay: cfg.RetryDelay,
		limiter:    NewRateLimiter(cfg.RateLimit),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		failures:   cfg.Failures,
		logger:     cfg.Logger.With("component", "ocr", "engine", cfg.Engine.Name()),
	}, nil
}

// Engine returns the underlying engine name.
func (r *Runner) Engine() string {
	return r.engine.Name()
}

// Language returns the configured language code.
func (r *Runner) Language() string {
	return r.lang
}

// Stats returns a snapshot of runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Regions:    r.regions.Load(),
		Recognized: r.recognized.Load(),
		Failed:     r.failed.Load(),
		Retries:    r.retries.Load(),
		RateLimit:  r.limiter.Status(),
	}
}

// Page recognizes every non-duplicate text region of p. The only error
// returned is ctx's.
func (r *Runner) Page(ctx context.Context, p *types.PageRecord) (PageText, error) {
	out := PageText{PageID: p.PageID}
	if p.Representative == nil {
		return out, nil
	}
	var regions []types.Region
	for _, reg := range p.ExtractableRegions() {
		if reg.Kind == types.RegionText {
			regions = append(regions, reg)
		}
	}
	out.Regions = make([]RegionText, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	for i, reg := range regions {
		if err := r.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer r.sem.Release(1)
			out.Regions[i] = r.region(gctx, p, reg)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (r *Runner) region(ctx context.Context, p *types.PageRecord, reg types.Region) RegionText {
	r.regions.Add(1)
	res := RegionText{RegionIndex: reg.Index, Box: reg.Box}
	text, attempts, err := r.Recognize(ctx, types.Crop(p.Representative, reg.Box))
	res.Attempts = attempts
	if err != nil {
		r.failed.Add(1)
		res.Failed = true
		res.Error = err.Error()
		if ctx.Err() == nil {
			r.failures.Record(types.Failure{
				Kind:        types.FailureOCR,
				PageID:      p.PageID,
				RegionIndex: reg.Index,
				Timestamp:   p.Range.Start,
				Message:     err.Error(),
			})
			r.logger.Warn("region ocr failed",
				"page", p.PageID, "region", reg.Index, "attempts", attempts, "error", err)
		}
		return res
	}
	r.recognized.Add(1)
	res.Text = text
	return res
}

// Recognize runs the engine on img with rate limiting, a per-attempt timeout
// and retries. It returns the text, the number of attempts made, and the
// last error wrapped in types.ErrOCRFailure.
func (r *Runner) Recognize(ctx context.Context, img image.Image) (string, int, error) {
	var (
		text     string
		attempts int
	)
	err := retry.Do(
		func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			attempts++
			actx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			out, err := r.engine.Recognize(actx, img, r.lang)
			if err != nil {
				if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return fmt.Errorf("timed out after %s: %w", r.timeout, err)
				}
				return err
			}
			text = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.retryDelay),
		retry.DelayType(r.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && retry.IsRecoverable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.retries.Add(1)
			if rle, ok := IsRateLimitError(err); ok {
				r.limiter.Throttled(rle.RetryAfter)
			}
			r.logger.Debug("retrying ocr", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", attempts, fmt.Errorf("%w: %w", types.ErrOCRFailure, err)
	}
	return text, attempts, nil
}

// delay honors Retry-After on rate-limit errors and backs off otherwise.
func (r *Runner) delay(n uint, err error, cfg *retry.Config) time.Duration {
	if rle, ok := IsRateLimitError(err); ok && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return retry.BackOffDelay(n, err, cfg)
}
