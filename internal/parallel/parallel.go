// Package parallel fans host kernel loops out over worker goroutines.
package parallel

import (
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/kerneltune/internal/envconfig"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Upper bound on concurrently running chunks.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig takes the worker count from KERNELTUNE_NUM_THREADS.
func DefaultConfig() Config {
	n := envconfig.NumThreads()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 16,
	}
}

// Serial is a Config that always runs inline.
func Serial() Config {
	return Config{}
}

// For executes f(i) for i in [0, n). Work is split into contiguous chunks;
// it runs inline when parallelism is disabled or n is below MinChunkSize.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < max(cfg.MinChunkSize, 2) {
		for i := range n {
			f(i)
		}
		return
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	var g errgroup.Group
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				f(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ForBatch runs f over every (batch, channel) pair, the outer loop shape of
// convolution kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
