package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutFromTail(t *testing.T) {
	ctx := context.Background()
	s := NewState(3)

	var got []int
	for {
		idx, ok := s.Checkout(ctx)
		if !ok {
			break
		}
		got = append(got, idx)
	}
	assert.Equal(t, []int{2, 1, 0}, got)
	assert.Zero(t, s.Remaining())

	_, ok := s.Checkout(ctx)
	assert.False(t, ok)
}

func TestCheckoutCanceled(t *testing.T) {
	s := NewState(2)
	s.mu.Store(1) // held by someone else

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := s.Checkout(ctx)
	assert.False(t, ok)

	s.unlock()
	assert.Equal(t, 2, s.Remaining())
}

func TestDrain(t *testing.T) {
	s := NewState(5)
	_, _ = s.Checkout(context.Background())
	assert.Equal(t, 4, s.Drain())
	assert.Zero(t, s.Remaining())
	assert.Equal(t, 5, s.Total())
}

func TestWaitLaunched(t *testing.T) {
	s := NewState(4)
	assert.Zero(t, s.Launched())

	done := make(chan int)
	go func() {
		n, err := s.WaitLaunched(context.Background())
		assert.NoError(t, err)
		done <- n
	}()

	time.Sleep(5 * time.Millisecond)
	s.SetLaunched(3)
	select {
	case n := <-done:
		assert.Equal(t, 3, n)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not observe launch")
	}
}

func TestWaitLaunchedCanceled(t *testing.T) {
	s := NewState(4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.WaitLaunched(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChunkRange(t *testing.T) {
	tests := []struct {
		n, workers, worker int
		start, count       int
	}{
		{10, 3, 0, 0, 4},
		{10, 3, 1, 4, 3},
		{10, 3, 2, 7, 3},
		{2, 3, 2, 2, 0},
		{6, 1, 0, 0, 6},
		{0, 2, 0, 0, 0},
		{5, 0, 0, 0, 0},
		{5, 2, 2, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d/%d", tt.n, tt.workers, tt.worker), func(t *testing.T) {
			start, count := ChunkRange(tt.n, tt.workers, tt.worker)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.count, count)
		})
	}
}

func TestComputeWorkers(t *testing.T) {
	assert.Equal(t, 3, ComputeWorkers(10, 4, true))
	assert.Equal(t, 4, ComputeWorkers(10, 4, false))
	assert.Equal(t, 1, ComputeWorkers(2, 8, true))
	assert.Equal(t, 0, ComputeWorkers(1, 8, true))
	assert.Equal(t, 0, ComputeWorkers(0, 8, false))
	assert.Equal(t, 0, ComputeWorkers(5, 0, false))
}

func TestDescribeFault(t *testing.T) {
	assert.Equal(t, "boom", DescribeFault("boom"))
	assert.Equal(t, "bad", DescribeFault(errors.New("bad")))
	assert.Equal(t, "inner", DescribeFault(&Fault{Payload: &Fault{Payload: "inner"}}))
	assert.Equal(t, "lost", DescribeFault(&WorkerFaultError{Message: "lost"}))
	assert.Equal(t, "1s", DescribeFault(time.Second))
	assert.Equal(t, unknownFault, DescribeFault(nil))
	assert.Equal(t, unknownFault, DescribeFault(""))
	assert.Equal(t, unknownFault, DescribeFault(42))
	assert.Equal(t, "wrapped", DescribeFault(emptyError{inner: errors.New("wrapped")}))

	// Nesting beyond the depth bound terminates.
	var deep any = "bottom"
	for range maxFaultDepth + 2 {
		deep = &Fault{Payload: deep}
	}
	assert.Equal(t, unknownFault, DescribeFault(deep))

	// A self-referencing wrapper terminates too.
	loop := &Fault{}
	loop.Payload = loop
	assert.Equal(t, unknownFault, DescribeFault(loop))
}

type emptyError struct{ inner error }

func (emptyError) Error() string   { return "" }
func (e emptyError) Unwrap() error { return e.inner }

func TestWorkerFaultError(t *testing.T) {
	err := fmt.Errorf("scan: %w", &WorkerFaultError{Worker: 2, Message: "boom"})
	require.ErrorIs(t, err, ErrWorkerFault)

	var wf *WorkerFaultError
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, 2, wf.Worker)
	assert.Equal(t, "worker 2: boom", wf.Error())
}

// claimAll runs workers concurrently the way the coordinator does and
// returns each worker's claims.
func claimAll(total, workers int) [][]int {
	ctx := context.Background()
	s := NewState(total)
	claims := make([][]int, workers)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, _ := s.WaitLaunched(ctx)
			_, want := ChunkRange(total, n, w)
			for len(claims[w]) < want {
				idx, ok := s.Checkout(ctx)
				if !ok {
					break
				}
				claims[w] = append(claims[w], idx)
			}
		}()
	}
	s.SetLaunched(workers)
	wg.Wait()
	return claims
}

func TestStateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("chunk ranges tile the segment list", prop.ForAll(
		func(n, workers int) bool {
			next := 0
			for w := range workers {
				start, count := ChunkRange(n, workers, w)
				if start != next || count < n/workers || count > n/workers+1 {
					return false
				}
				next += count
			}
			return next == n
		},
		gen.IntRange(0, 200),
		gen.IntRange(1, 16),
	))

	properties.Property("partition coverage", prop.ForAll(
		func(n, k int) bool {
			if k > n {
				k = n
			}
			seen := make(map[int]int)
			for _, c := range claimAll(n, k) {
				for _, idx := range c {
					seen[idx]++
				}
			}
			if len(seen) != n {
				return false
			}
			for idx, times := range seen {
				if idx < 0 || idx >= n || times != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 64),
		gen.IntRange(1, 8),
	))

	properties.Property("checkout exhaustion", prop.ForAll(
		func(n, callers int) bool {
			ctx := context.Background()
			s := NewState(n)
			var mu sync.Mutex
			claimed := 0

			var wg sync.WaitGroup
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						if _, ok := s.Checkout(ctx); !ok {
							return
						}
						mu.Lock()
						claimed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			_, more := s.Checkout(ctx)
			return claimed == n && !more && s.Remaining() == 0
		},
		gen.IntRange(0, 300),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
