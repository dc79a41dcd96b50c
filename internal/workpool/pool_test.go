package workpool

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(n int) <-chan int {
	in := make(chan int)
	go func() {
		defer close(in)
		for i := 0; i < n; i++ {
			in <- i
		}
	}()
	return in
}

func TestRunPreservesOrder(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		window  int
	}{
		{"single worker", 1, 1},
		{"many workers", 8, 0},
		{"window smaller than workers", 8, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := New(Config{Workers: tt.workers, Window: tt.window}, func(_ context.Context, v int) int {
				time.Sleep(time.Duration(rand.Intn(300)) * time.Microsecond)
				return v * 2
			})

			out := make(chan int)
			errc := make(chan error, 1)
			go func() { errc <- pool.Run(context.Background(), feed(200), out) }()

			var got []int
			for v := range out {
				got = append(got, v)
			}
			require.NoError(t, <-errc)
			require.Len(t, got, 200)
			for i, v := range got {
				assert.Equal(t, i*2, v)
			}
			assert.Equal(t, int64(200), pool.Status().Processed)
		})
	}
}

func TestRunBoundsOutstandingWork(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})
	pool := New(Config{Workers: 8, Window: 3}, func(_ context.Context, v int) int {
		started.Add(1)
		<-release
		return v
	})

	out := make(chan int)
	errc := make(chan error, 1)
	go func() { errc <- pool.Run(context.Background(), feed(50), out) }()

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, int(started.Load()), 4)

	close(release)
	n := 0
	for range out {
		n++
	}
	require.NoError(t, <-errc)
	assert.Equal(t, 50, n)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := New(Config{Workers: 2}, func(ctx context.Context, v int) int {
		return v
	})

	in := make(chan int)
	out := make(chan int)
	errc := make(chan error, 1)
	go func() { errc <- pool.Run(ctx, in, out) }()

	in <- 1
	assert.Equal(t, 1, <-out)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
	_, open := <-out
	assert.False(t, open)
}

func TestNewDefaults(t *testing.T) {
	pool := New(Config{}, func(_ context.Context, v int) int { return v })
	status := pool.Status()
	assert.Equal(t, "pool", status.Name)
	assert.Equal(t, 1, status.Workers)
	assert.Equal(t, 2, status.Window)
}
