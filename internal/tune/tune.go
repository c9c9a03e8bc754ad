// Package tune searches a kernel's configuration space for the fastest candidate.
//
// A kernel describes its axes (algorithms, modes, optional fusion), the search
// enumerates them in a fixed order, and every candidate is tried through a
// TrialFunc. Candidates whose trial fails are skipped; the first candidate with
// the strictly lowest time wins.
package tune

import (
	"fmt"
	"math"
)

// Unmeasured is the time reported when no candidate could be measured.
const Unmeasured = math.MaxFloat64

// Candidate is one point of a kernel's configuration space.
type Candidate struct {
	Algo  int
	Mode  int
	Fused bool
}

func (c Candidate) String() string {
	return fmt.Sprintf("algo=%d mode=%d fused=%t", c.Algo, c.Mode, c.Fused)
}

// Axes bounds a configuration space. Algos and Modes are counts; Fusion adds a
// fused variant of every candidate.
type Axes struct {
	Algos  int
	Modes  int
	Fusion bool
}

// Candidates enumerates the space algorithm-major, then mode, then unfused before fused.
func (a Axes) Candidates() []Candidate {
	algos, modes := max(a.Algos, 1), max(a.Modes, 1)
	fused := []bool{false}
	if a.Fusion {
		fused = append(fused, true)
	}

	out := make([]Candidate, 0, algos*modes*len(fused))
	for algo := range algos {
		for mode := range modes {
			for _, f := range fused {
				out = append(out, Candidate{Algo: algo, Mode: mode, Fused: f})
			}
		}
	}
	return out
}

// Measurement is what a successful trial reports.
type Measurement struct {
	TimeMs         float64
	WorkspaceBytes int
}

// TrialFunc runs one candidate. Any error skips it.
type TrialFunc func(c Candidate) (Measurement, error)

// Result is the outcome of a search.
type Result struct {
	Best    Candidate
	Found   bool
	Tried   int
	Skipped int
	Measurement
}

// Search tries every candidate and keeps the fastest. Without a usable candidate
// the result has Found false and TimeMs Unmeasured.
func Search(kernel string, candidates []Candidate, try TrialFunc, obs Observer) Result {
	res := Result{Measurement: Measurement{TimeMs: Unmeasured}}
	for _, c := range candidates {
		res.Tried++
		m, err := try(c)
		if err != nil {
			res.Skipped++
			obs.notify(Event{Kernel: kernel, Candidate: c, Err: err})
			continue
		}

		best := m.TimeMs < res.TimeMs
		if best {
			res.Best = c
			res.Measurement = m
			res.Found = true
		}
		obs.notify(Event{Kernel: kernel, Candidate: c, Measurement: m, Best: best})
	}

	obs.notify(Event{Kernel: kernel, Candidate: res.Best, Measurement: res.Measurement, Done: true, Found: res.Found})
	return res
}
