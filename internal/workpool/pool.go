// Package workpool runs a per-item function on a fixed set of workers while
// delivering results in input order.
package workpool

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Func processes one item. Failures are reported inside Out.
type Func[In, Out any] func(ctx context.Context, in In) Out

// Config configures a new pool.
type Config struct {
	Name    string
	Logger  *slog.Logger
	Workers int // Number of worker goroutines (default: 1)
	Window  int // Reorder buffer slots (default: 2*Workers)
}

// Pool is an ordered worker pool. All workers share a single queue; a bounded
// reorder buffer re-joins their results in submission order.
type Pool[In, Out any] struct {
	name    string
	logger  *slog.Logger
	workers int
	window  int
	fn      Func[In, Out]

	inFlight  atomic.Int32
	buffered  atomic.Int32
	processed atomic.Int64
}

// New creates a pool running fn.
func New[In, Out any](cfg Config, fn Func[In, Out]) *Pool[In, Out] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = "pool"
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	window := cfg.Window
	if window <= 0 {
		window = 2 * workers
	}

	return &Pool[In, Out]{
		name:    name,
		logger:  logger.With("pool", name, "workers", workers),
		workers: workers,
		window:  window,
		fn:      fn,
	}
}

// task pairs an input with the slot its result is delivered to.
type task[In, Out any] struct {
	in  In
	res chan Out
}

// Run consumes in until it is closed, sending fn's results to out in the
// order the inputs arrived. It closes out when it returns. Run stops early
// with ctx's error on cancellation.
func (p *Pool[In, Out]) Run(ctx context.Context, in <-chan In, out chan<- Out) error {
	defer close(out)

	g, ctx := errgroup.WithContext(ctx)
	tasks := make(chan task[In, Out])
	order := make(chan chan Out, p.window)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for t := range tasks {
				p.inFlight.Add(1)
				t.res <- p.fn(ctx, t.in)
				p.inFlight.Add(-1)
			}
			return nil
		})
	}

	// Dispatcher: reserves an ordered slot before handing work to a worker,
	// so no more than window+1 items are outstanding at once.
	g.Go(func() error {
		defer close(tasks)
		defer close(order)
		for {
			var v In
			var ok bool
			select {
			case <-ctx.Done():
				return ctx.Err()
			case v, ok = <-in:
				if !ok {
					return nil
				}
			}

			res := make(chan Out, 1)
			select {
			case order <- res:
				p.buffered.Add(1)
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case tasks <- task[In, Out]{in: v, res: res}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// Collector: delivers results strictly in slot order.
	g.Go(func() error {
		for res := range order {
			var v Out
			select {
			case v = <-res:
			case <-ctx.Done():
				return ctx.Err()
			}
			p.buffered.Add(-1)
			select {
			case out <- v:
				p.processed.Add(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	p.logger.Debug("pool drained", "processed", p.processed.Load(), "error", err)
	return err
}

// Status reports a pool's current state.
type Status struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Window    int    `json:"window"`
	InFlight  int    `json:"in_flight"`
	Buffered  int    `json:"buffered"`
	Processed int64  `json:"processed"`
}

// Status returns current pool status.
func (p *Pool[In, Out]) Status() Status {
	return Status{
		Name:      p.name,
		Workers:   p.workers,
		Window:    p.window,
		InFlight:  int(p.inFlight.Load()),
		Buffered:  int(p.buffered.Load()),
		Processed: p.processed.Load(),
	}
}
