package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/kerneltune/internal/op"
)

// Job is one graph to run on one runtime.
type Job struct {
	Runtime *Runtime
	Graph   *op.Graph
	Options RunOptions
}

// RunAll runs the jobs concurrently and returns the first error. Jobs on
// the same runtime still run one after the other. The first failure
// cancels the jobs that have not finished.
func RunAll(ctx context.Context, jobs ...Job) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			return job.Runtime.Run(ctx, job.Graph, job.Options)
		})
	}
	return g.Wait()
}
