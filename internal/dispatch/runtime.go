// Package dispatch executes operator graphs on a device context, resolving
// every operator to a registered kernel and optionally tuning it first.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/envconfig"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/logutil"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tune"
)

// RunOptions select how a graph is executed.
type RunOptions struct {
	// Tune searches a record for every operator that has none yet.
	Tune bool
	// Cached shares records between operators of equal signature through
	// the PerfEngine, including records persisted by earlier processes.
	Cached bool
	// Profiling synchronizes after every operator and accumulates its time.
	Profiling bool
}

// DefaultRunOptions tunes with the shared engine; profiling follows the environment.
func DefaultRunOptions() RunOptions {
	return RunOptions{Tune: true, Cached: true, Profiling: envconfig.Profiling()}
}

// OpRecord is the record an operator was executed with.
type OpRecord struct {
	Op     op.Operator
	Kernel string
	Record kernel.PerfRecord
}

// ProfileEntry accumulates the synchronized time of one operator type.
type ProfileEntry struct {
	Op      op.OpType
	Count   int
	TotalMs float64
}

// Runtime runs graphs on one device context. Calls are serialized, since a
// context allows a single kernel invocation at a time. A context serves one
// runtime at a time: two runtimes running concurrently on the same context
// would interleave their tuning observers.
type Runtime struct {
	mu       sync.Mutex
	dc       device.Context
	registry *kernel.Registry
	engine   *PerfEngine
	logger   *slog.Logger
	sub      tune.Observer
	records  *orderedmap.OrderedMap[uuid.UUID, *OpRecord]
	profile  map[op.OpType]*ProfileEntry
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithRegistry resolves kernels in r instead of kernel.Global().
func WithRegistry(r *kernel.Registry) Option {
	return func(rt *Runtime) { rt.registry = r }
}

// WithPerfEngine shares e with other runtimes.
func WithPerfEngine(e *PerfEngine) Option {
	return func(rt *Runtime) { rt.engine = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// New returns a runtime on dc. It logs the tuning events of its runs and
// forwards them to the observer installed on dc when New was called.
func New(dc device.Context, opts ...Option) *Runtime {
	rt := &Runtime{
		dc:       dc,
		registry: kernel.Global(),
		logger:   slog.Default(),
		records:  orderedmap.New[uuid.UUID, *OpRecord](),
		profile:  make(map[op.OpType]*ProfileEntry),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.engine == nil {
		rt.engine = NewPerfEngine(nil)
	}
	rt.sub = dc.Observer()
	return rt
}

// Context returns the device context the runtime executes on.
func (rt *Runtime) Context() device.Context { return rt.dc }

// Engine returns the record engine consulted by cached runs.
func (rt *Runtime) Engine() *PerfEngine { return rt.engine }

// Subscribe installs obs as the receiver of tuning events, replacing an
// earlier subscriber. The runtime keeps logging events either way.
func (rt *Runtime) Subscribe(obs tune.Observer) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.sub = obs
}

// observe routes the tuning events of dc to the runtime until the returned
// func restores the previous observer.
func (rt *Runtime) observe() func() {
	prev := rt.dc.Observer()
	rt.dc.SetObserver(tune.Join(rt.logEvent, rt.sub))
	return func() { rt.dc.SetObserver(prev) }
}

func (rt *Runtime) logEvent(e tune.Event) {
	if e.Done {
		rt.logger.Debug("tuning finished", "kernel", e.Kernel, "found", e.Found,
			"candidate", e.Candidate, "time_ms", e.TimeMs, "workspace", e.WorkspaceBytes)
		return
	}
	rt.logger.Log(context.TODO(), logutil.LevelTrace, "tuning candidate", "kernel", e.Kernel,
		"candidate", e.Candidate, "time_ms", e.TimeMs, "best", e.Best, "error", e.Err)
}

// Run executes the operators of g in dependency order. It stops at the
// first failing operator and reports it as an *OpError. Cancellation is
// checked between operators; a running kernel is never interrupted.
func (rt *Runtime) Run(ctx context.Context, g *op.Graph, opts RunOptions) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	defer rt.observe()()

	ops, err := rt.order(g)
	if err != nil {
		return err
	}

	for _, o := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, name, err := rt.resolve(o)
		if err != nil {
			return err
		}

		var rec kernel.PerfRecord
		if opts.Tune {
			if rec, err = rt.record(ctx, o, k, name, opts.Cached); err != nil {
				return &OpError{Op: o, Kernel: name, Err: err}
			}
		}

		// only the compute call is profiled, never the tuning search
		var start time.Time
		if opts.Profiling {
			if err := rt.dc.Sync(); err != nil {
				return &OpError{Op: o, Kernel: name, Err: err}
			}
			start = time.Now()
		}

		if rec != nil {
			err = k.ComputeWith(o, rec, rt.dc)
		} else {
			err = k.Compute(o, rt.dc)
		}
		if err != nil {
			return &OpError{Op: o, Kernel: name, Err: err}
		}

		if opts.Profiling {
			if err := rt.dc.Sync(); err != nil {
				return &OpError{Op: o, Kernel: name, Err: err}
			}
			rt.addProfile(o.Type(), float64(time.Since(start).Nanoseconds())/1e6)
		}
	}

	if opts.Profiling {
		for _, p := range rt.profileLocked() {
			rt.logger.Info("profile", "op", p.Op, "count", p.Count, "total_ms", p.TotalMs)
		}
	}
	return nil
}

// CheckKernels reports every operator of g without a registered kernel.
func (rt *Runtime) CheckKernels(g *op.Graph) error {
	var errs []error
	for _, o := range g.Operators() {
		if _, _, err := rt.resolve(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetPerfTime returns the summed record time of g in milliseconds, tuning
// operators that have no record yet. An unmeasured record saturates the
// sum at tune.Unmeasured.
func (rt *Runtime) GetPerfTime(ctx context.Context, g *op.Graph) (float64, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	defer rt.observe()()

	ops, err := rt.order(g)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, o := range ops {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		k, name, err := rt.resolve(o)
		if err != nil {
			return 0, err
		}
		rec, err := rt.record(ctx, o, k, name, false)
		if err != nil {
			return 0, &OpError{Op: o, Kernel: name, Err: err}
		}
		total = min(total+rec.Time(), tune.Unmeasured)
	}
	return total, nil
}

// Records returns the record of every tuned operator in the order the
// operators were first tuned.
func (rt *Runtime) Records() []OpRecord {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	out := make([]OpRecord, 0, rt.records.Len())
	for pair := rt.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// Profile returns the accumulated profile ordered by operator type.
func (rt *Runtime) Profile() []ProfileEntry {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.profileLocked()
}

// ResetProfile clears the accumulated profile.
func (rt *Runtime) ResetProfile() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	clear(rt.profile)
}

func (rt *Runtime) profileLocked() []ProfileEntry {
	out := make([]ProfileEntry, 0, len(rt.profile))
	for _, p := range rt.profile {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b ProfileEntry) int { return cmp.Compare(a.Op, b.Op) })
	return out
}

func (rt *Runtime) addProfile(typ op.OpType, ms float64) {
	p, ok := rt.profile[typ]
	if !ok {
		p = &ProfileEntry{Op: typ}
		rt.profile[typ] = p
	}
	p.Count++
	p.TotalMs += ms
}

func (rt *Runtime) order(g *op.Graph) ([]op.Operator, error) {
	if g.Device() != rt.dc.Device() {
		return nil, kernel.Errorf(kernel.KindConfig, "Run", "graph on %s, context %s on %s",
			g.Device(), rt.dc.Name(), rt.dc.Device())
	}
	return g.TopoSort()
}

func (rt *Runtime) resolve(o op.Operator) (kernel.Kernel, string, error) {
	key := kernel.KeyOf(rt.dc.Device(), o)
	k, err := rt.registry.Lookup(key)
	if err != nil {
		return nil, "", &OpError{Op: o, Err: err}
	}
	name, _ := rt.registry.Name(key)
	return k, name, nil
}

// record returns the record of o, tuning it on first use. With cached the
// engine is consulted before tuning and filled after.
func (rt *Runtime) record(ctx context.Context, o op.Operator, k kernel.Kernel, name string, cached bool) (kernel.PerfRecord, error) {
	if r, ok := rt.records.Get(o.ID()); ok {
		return r.Record, nil
	}

	var rec kernel.PerfRecord
	if cached {
		hit, ok, err := rt.engine.Get(ctx, name, o.Signature())
		if err != nil {
			return nil, err
		}
		if ok {
			rec = hit
			rt.logger.Debug("record reused", "kernel", name, "signature", o.Signature())
		}
	}

	if rec == nil {
		tuned, err := k.Tune(o, rt.dc)
		if err != nil {
			return nil, err
		}
		rec = tuned
		if cached {
			if err := rt.engine.Put(ctx, name, o.Signature(), rec); err != nil {
				return nil, err
			}
		}
	}

	rt.records.Set(o.ID(), &OpRecord{Op: o, Kernel: name, Record: rec})
	rt.logger.Debug("selected record", "kernel", name, "op", o, "record", rec, "time_ms", rec.Time())
	return rec, nil
}
