package tune

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/kerneltune/internal/envconfig"
)

// Options controls how a candidate is timed.
type Options struct {
	Warmup int
	Rounds int
}

// DefaultOptions reads the round counts from the environment.
func DefaultOptions() Options {
	return Options{
		Warmup: int(envconfig.WarmupRounds()),
		Rounds: max(int(envconfig.TuneRounds()), 1),
	}
}

// Timeit runs warm-up calls untimed, then times each round between two device
// synchronizations and returns the mean in milliseconds. The first error aborts.
func Timeit(run, sync func() error, opts Options) (float64, error) {
	for range opts.Warmup {
		if err := run(); err != nil {
			return 0, err
		}
	}

	rounds := max(opts.Rounds, 1)
	samples := make([]float64, 0, rounds)
	for range rounds {
		if err := sync(); err != nil {
			return 0, err
		}
		start := time.Now()
		if err := run(); err != nil {
			return 0, err
		}
		if err := sync(); err != nil {
			return 0, err
		}
		samples = append(samples, float64(time.Since(start).Nanoseconds())/1e6)
	}

	return stat.Mean(samples, nil), nil
}

// NoSync is a sync function for host-synchronous devices.
func NoSync() error { return nil }
