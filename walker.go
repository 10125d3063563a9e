package mcmc

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// nSample is the number of accept/reject outcomes gathered per parameter
// before its proposal width is rescaled.
const nSample = 25

// Best-record selection methods for BestP and MoveToBestWalker.
const (
	MethodMean   = "mean"
	MethodRecent = "recent"
)

// Walker is a single Markov chain over the parameter vector.  The x, y data
// and the model are shared read-only across all walkers of an ensemble; the
// position p, the proposal widths psig, the accept windows, and the run logs
// are exclusively owned and only ever mutated by the walker itself.
type Walker struct {
	x, y  []float64
	model Model
	cost  Coster

	p    []float64
	psig []float64 // per-parameter proposal stddev, always > 0
	c    float64   // cost of p as of the last accepted move

	accepts []int // accepted outcomes in the current window, per parameter
	trials  []int // total outcomes in the current window, per parameter

	runs map[string]*Run
	rng  *rand.Rand
}

func newWalker(x, y []float64, model Model, cost Coster, p0, psig0 []float64, rng *rand.Rand) (*Walker, error) {
	w := &Walker{
		x:       x,
		y:       y,
		model:   model,
		cost:    cost,
		p:       append([]float64{}, p0...),
		accepts: make([]int, len(p0)),
		trials:  make([]int, len(p0)),
		runs:    map[string]*Run{},
		rng:     rng,
	}

	if psig0 == nil {
		w.psig = make([]float64, len(p0))
		for i := range w.psig {
			w.psig[i] = 1
		}
	} else {
		w.psig = append([]float64{}, psig0...)
	}

	c, err := w.cost.Cost(w.p)
	if err != nil {
		return nil, err
	}
	w.c = c
	return w, nil
}

// Step runs one full sweep over the parameters in a fresh random order.
// Each parameter gets a Gaussian proposal accepted or rejected by the
// Metropolis rule against the cost cached from the last accepted move.  A
// rejected coordinate rolls back to its value at the start of the call, not
// to any intermediate state from this sweep; accepted changes to other
// coordinates are kept.  After the sweep the cached cost is recomputed from
// the final position.  When runID is non-empty, the record [cost, p...] is
// appended to that run, creating it if absent.  Cost evaluation errors
// propagate and abort the step.
func (w *Walker) Step(runID string) error {
	origP := append([]float64{}, w.p...)

	for _, i := range w.rng.Perm(len(w.p)) {
		w.p[i] += w.rng.NormFloat64() * w.psig[i]
		cand, err := w.cost.Cost(w.p)
		if err != nil {
			w.p[i] = origP[i]
			return err
		}

		accepted := math.Exp(-(cand - w.c)) > w.rng.Float64()
		if accepted {
			w.c = cand
		} else {
			w.p[i] = origP[i]
		}
		w.tune(i, accepted)
	}

	// Resynchronize the cached cost with the final position; incremental
	// caching across accepted coordinates can drift from cost(p).
	c, err := w.cost.Cost(w.p)
	if err != nil {
		return err
	}
	w.c = c

	if runID != "" {
		run := w.runs[runID]
		if run == nil {
			run = &Run{}
			w.runs[runID] = run
		}
		rec := make(Record, 1+len(w.p))
		rec[0] = w.c
		copy(rec[1:], w.p)
		run.Append(rec)
	}
	return nil
}

// tune records one outcome for parameter i and, once the window fills,
// rescales psig[i] toward a 50% acceptance rate and clears the window.
func (w *Walker) tune(i int, accepted bool) {
	if accepted {
		w.accepts[i]++
	}
	w.trials[i]++
	if w.trials[i] < nSample {
		return
	}

	if rate := float64(w.accepts[i]) / float64(nSample); rate > 0 {
		w.psig[i] *= rate / 0.5
	} else {
		w.psig[i] /= 2
	}
	w.accepts[i], w.trials[i] = 0, 0
}

// Walk advances the chain n steps, recording every step under runID.  An
// empty runID synthesizes the lowest-numbered unused name of the form
// "walkN", fixed for the whole call.
func (w *Walker) Walk(n int, runID string) error {
	if runID == "" {
		for k := 0; ; k++ {
			id := fmt.Sprintf("walk%v", k)
			if _, ok := w.runs[id]; !ok {
				runID = id
				break
			}
		}
	}

	for i := 0; i < n; i++ {
		if err := w.Step(runID); err != nil {
			return err
		}
	}
	return nil
}

// BestP returns the representative record of a run: the column-wise mean of
// all its records (MethodMean) or the most recent record (MethodRecent).
// The record's leading field is the cost, not a parameter.
func (w *Walker) BestP(runID, method string) (Record, error) {
	run, ok := w.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRun, runID)
	}

	switch method {
	case MethodMean:
		return run.Mean(), nil
	case MethodRecent:
		return run.Recent(), nil
	}
	return nil, fmt.Errorf("mcmc: unknown best-record method %q", method)
}

// moveTo repositions the walker and replaces its proposal widths, refreshing
// the cached cost.  Accept windows are left as they are.
func (w *Walker) moveTo(p, psig []float64) error {
	w.p = append([]float64{}, p...)
	w.psig = append([]float64{}, psig...)

	c, err := w.cost.Cost(w.p)
	if err != nil {
		return err
	}
	w.c = c
	return nil
}

// P returns a copy of the walker's current position.
func (w *Walker) P() []float64 { return append([]float64{}, w.p...) }

// Psig returns a copy of the walker's current proposal widths.
func (w *Walker) Psig() []float64 { return append([]float64{}, w.psig...) }

// RunIDs returns the walker's run ids in sorted order.
func (w *Walker) RunIDs() []string {
	ids := make([]string, 0, len(w.runs))
	for id := range w.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run returns the walker's run log for id, or false if no step has been
// recorded under it.
func (w *Walker) Run(id string) (*Run, bool) {
	run, ok := w.runs[id]
	return run, ok
}
