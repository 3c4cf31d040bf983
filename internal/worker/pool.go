// Package worker provides a parallel tile fetching worker pool.
package worker

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/MeKo-Tech/osmscene/internal/tile"
)

// Fetcher retrieves a single raster tile.
// This matches the signature of basemap.HTTPFetcher.Fetch.
type Fetcher interface {
	Fetch(ctx context.Context, coords tile.Coords) (image.Image, error)
}

// Task represents a single tile fetch.
type Task struct {
	Coords tile.Coords
}

// Result represents the outcome of a tile fetch.
type Result struct {
	Image   image.Image
	Err     error
	Task    Task
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Fetcher    Fetcher
	OnProgress ProgressFunc
	Workers    int
	// FailFast cancels the remaining tasks after the first failure.
	FailFast bool
}

// Pool manages parallel tile fetching.
type Pool struct {
	fetcher    Fetcher
	onProgress ProgressFunc
	workers    int
	failFast   bool
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		fetcher:    cfg.Fetcher,
		onProgress: cfg.OnProgress,
		failFast:   cfg.FailFast,
	}
}

type indexedTask struct {
	task  Task
	index int
}

type indexedResult struct {
	result Result
	index  int
}

// Run executes all tasks and returns one result per task, in task order.
// Tasks are processed in parallel by the configured number of workers.
// The function blocks until all tasks complete or the context is cancelled.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskCh := make(chan indexedTask, len(tasks))
	resultCh := make(chan indexedResult, len(tasks))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	// Feed tasks. The channel is buffered for every task, so this never blocks.
	for i, task := range tasks {
		taskCh <- indexedTask{task: task, index: i}
	}
	close(taskCh)

	// Collect results in a separate goroutine
	results := make([]Result, len(tasks))
	done := make(chan struct{})

	go func() {
		var completed, failed int
		for r := range resultCh {
			results[r.index] = r.result

			completed++
			if r.result.Err != nil {
				failed++
				if p.failFast {
					cancel()
				}
			}

			if p.onProgress != nil {
				p.onProgress(completed, len(tasks), failed)
			}
		}
		close(done)
	}()

	// Wait for workers to finish
	wg.Wait()
	close(resultCh)

	// Wait for result collection to finish
	<-done

	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan indexedTask, results chan<- indexedResult) {
	for it := range tasks {
		select {
		case <-ctx.Done():
			// Send cancellation result
			results <- indexedResult{
				index:  it.index,
				result: Result{Task: it.task, Err: ctx.Err()},
			}
			continue
		default:
		}

		start := time.Now()
		img, err := p.fetcher.Fetch(ctx, it.task.Coords)
		elapsed := time.Since(start)

		results <- indexedResult{
			index: it.index,
			result: Result{
				Task:    it.task,
				Image:   img,
				Err:     err,
				Elapsed: elapsed,
			},
		}
	}
}

// FirstError returns the first non-cancellation error in results, or the
// first error of any kind when every failure is a cancellation.
func FirstError(results []Result) error {
	var fallback error
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if !errors.Is(r.Err, context.Canceled) {
			return r.Err
		}
		if fallback == nil {
			fallback = r.Err
		}
	}
	return fallback
}
