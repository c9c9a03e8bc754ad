package dispatch

import (
	"context"
	"sync"

	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/tune"
	"github.com/born-ml/kerneltune/internal/tunecache"
)

// PerfEngine shares tuned records between operators of equal shape. Records
// are keyed by kernel display name and operator signature. With a backing
// cache, measured records also survive the process.
type PerfEngine struct {
	mu      sync.Mutex
	records map[string]kernel.PerfRecord
	cache   *tunecache.Cache
}

// NewPerfEngine returns an engine, persisting into cache when it is not nil.
func NewPerfEngine(cache *tunecache.Cache) *PerfEngine {
	return &PerfEngine{records: make(map[string]kernel.PerfRecord), cache: cache}
}

func engineKey(kernelName, signature string) string {
	return kernelName + "|" + signature
}

// Get returns the record for kernelName and signature, loading it from the
// backing cache on a miss.
func (e *PerfEngine) Get(ctx context.Context, kernelName, signature string) (kernel.PerfRecord, bool, error) {
	key := engineKey(kernelName, signature)

	e.mu.Lock()
	rec, ok := e.records[key]
	e.mu.Unlock()
	if ok || e.cache == nil {
		return rec, ok, nil
	}

	rec, ok, err := e.cache.Get(ctx, kernelName, signature)
	if err != nil || !ok {
		return nil, false, err
	}
	e.mu.Lock()
	e.records[key] = rec
	e.mu.Unlock()
	return rec, true, nil
}

// Put stores rec. Unmeasured records stay in memory only, so a later
// process tunes again.
func (e *PerfEngine) Put(ctx context.Context, kernelName, signature string, rec kernel.PerfRecord) error {
	e.mu.Lock()
	e.records[engineKey(kernelName, signature)] = rec
	e.mu.Unlock()

	if e.cache == nil || rec.Time() >= tune.Unmeasured {
		return nil
	}
	return e.cache.Put(ctx, kernelName, signature, rec)
}

// Len returns the number of records held in memory.
func (e *PerfEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}
