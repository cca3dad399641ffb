package utils

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Workers bounds the number of bands ForEachBand splits its range into.
var Workers = runtime.GOMAXPROCS(0)

// ForEachBand splits the rows (or tiles) [0, n) into contiguous bands, at most one per worker,
// and calls fn(from, to) for each band concurrently. It returns once every band is processed.
// fn must only touch state owned by its band.
func ForEachBand(n int, fn func(from, to int)) {
	if n <= 0 {
		return
	}
	workers := ClampInt(Workers, 1, n)
	if workers == 1 {
		fn(0, n)
		return
	}
	size := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for from := 0; from < n; from += size {
		from, to := from, MinInt(from+size, n)
		wg.Add(1)
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			fn(from, to)
		})
	}
	wg.Wait()
}

// Stage is one independent step of a pipeline, run by RunStages.
type Stage func(ctx context.Context) error

// RunStages runs the stages concurrently and waits for all of them. The first failure cancels the
// context seen by the others. Failures, including panics, are combined into the returned error;
// cancellations caused by an earlier failure are not repeated.
func RunStages(ctx context.Context, stages ...Stage) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if combined != nil && errors.Is(err, context.Canceled) {
			return
		}
		combined = multierr.Append(combined, err)
		cancel()
	}
	for i, stage := range stages {
		i, stage := i, stage
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if thePanic := recover(); thePanic != nil {
					fail(errors.Errorf("stage %d panicked: %v", i, thePanic))
				}
			}()
			if err := stage(ctx); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()
	return combined
}
