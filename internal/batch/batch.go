// Package batch runs detection over many images with a bounded worker pool.
package batch

import (
	"context"
	"time"

	"github.com/MeKo-Tech/raydet/internal/nms"
)

// Item is the outcome of detecting one image. Err is set when the image
// failed to load or decode; the remaining images are still processed.
type Item struct {
	Path       string
	Detections []nms.Detection
	Duration   time.Duration
	Err        error
}

// Result aggregates a batch run.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Failed returns the number of items that errored.
func (r *Result) Failed() int {
	n := 0
	for i := range r.Items {
		if r.Items[i].Err != nil {
			n++
		}
	}
	return n
}

// DetectFunc runs detection on a single image file.
type DetectFunc func(path string) ([]nms.Detection, error)

// Process detects instances in every path using the given number of workers.
// Results are returned in input order. A cancelled context stops scheduling;
// unprocessed items carry the context error.
func Process(ctx context.Context, paths []string, workers int, fn DetectFunc) *Result {
	if workers < 1 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	start := time.Now()
	items := make([]Item, len(paths))
	jobs := make(chan int)

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for idx := range jobs {
				itemStart := time.Now()
				dets, err := fn(paths[idx])
				items[idx] = Item{
					Path:       paths[idx],
					Detections: dets,
					Duration:   time.Since(itemStart),
					Err:        err,
				}
			}
			done <- struct{}{}
		}()
	}

	scheduled := make([]bool, len(paths))
dispatch:
	for i := range paths {
		select {
		case jobs <- i:
			scheduled[i] = true
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	for i := 0; i < workers; i++ {
		<-done
	}

	for i := range paths {
		if !scheduled[i] {
			items[i] = Item{Path: paths[i], Err: ctx.Err()}
		}
	}

	return &Result{
		Items:       items,
		Duration:    time.Since(start),
		WorkerCount: workers,
	}
}
