package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Runner processes URLs one at a time, in input order
type Runner struct {
	processor *PageProcessor
	delay     time.Duration
	sink      ResultSink
}

// NewRunner creates a runner that pauses for delay after every URL
func NewRunner(processor *PageProcessor, delay time.Duration) *Runner {
	return &Runner{
		processor: processor,
		delay:     delay,
	}
}

// SetSink registers a receiver for every finished result. Sink failures are
// logged and do not stop the run.
func (r *Runner) SetSink(sink ResultSink) {
	r.sink = sink
}

// Run processes every URL and returns one result per URL in input order.
// Progress lines are written to progress when it is non-nil. If ctx is
// cancelled the results gathered so far are returned with ctx.Err().
func (r *Runner) Run(ctx context.Context, urls []string, progress io.Writer) ([]*PageResult, error) {
	results := make([]*PageResult, 0, len(urls))

	slog.Info("Starting run", "urls", len(urls), "fallback_renderer", r.processor.CanRender())
	start := time.Now()

	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			slog.Info("Run cancelled", "processed", len(results), "remaining", len(urls)-i)
			return results, err
		}

		if progress != nil {
			fmt.Fprintf(progress, "Processing: %s\n", url)
		}

		result := r.processor.Process(ctx, url)
		results = append(results, result)

		if r.sink != nil {
			if err := r.sink.SaveResult(i, result); err != nil {
				slog.Error("Failed to archive result", "url", url, "error", err)
			}
		}

		if err := r.pause(ctx); err != nil {
			slog.Info("Run cancelled", "processed", len(results), "remaining", len(urls)-i-1)
			return results, err
		}
	}

	slog.Info("Run completed", "urls", len(results), "duration", time.Since(start).String())
	return results, nil
}

// pause waits the fixed delay, returning early on cancellation
func (r *Runner) pause(ctx context.Context) error {
	if r.delay <= 0 {
		return nil
	}

	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
