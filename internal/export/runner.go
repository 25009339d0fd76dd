package export

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reporter receives progress snapshots while an export runs.
type Reporter func(ProgressSnapshot)

// RunWithProgress runs one export and calls report every interval until the
// export returns, successfully or not. The final snapshot is always reported.
func RunWithProgress(ctx context.Context, e *Exporter, opts Options, interval time.Duration, report Reporter) (Result, error) {
	if interval <= 0 {
		interval = time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	var res Result
	g.Go(func() error {
		defer close(done)
		var err error
		res, err = e.Export(gctx, opts)
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				if report != nil {
					report(e.Progress().Snapshot())
				}
				return nil
			case <-ticker.C:
				if report != nil {
					report(e.Progress().Snapshot())
				}
			}
		}
	})

	err := g.Wait()
	return res, err
}
