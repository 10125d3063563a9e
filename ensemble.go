package mcmc

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Ensemble coordinates a collection of walkers sharing the same data, model,
// and cost.  It drives burn-in, production stepping, convergence checks, and
// re-centering; walker state is only ever read between rounds, never while a
// step is in flight.
type Ensemble struct {
	x, y  []float64
	model Model
	cost  Coster

	walkers []*Walker

	savePath string
	db       *sql.DB
	flushed  map[flushKey]int

	lg       *slog.Logger
	rng      *rand.Rand
	parallel bool
}

type Option func(*Ensemble)

// WithCost replaces the default least-squares cost.
func WithCost(c Coster) Option { return func(e *Ensemble) { e.cost = c } }

// WithSavePath sets the directory runs are checkpointed to during Walk.
func WithSavePath(dir string) Option { return func(e *Ensemble) { e.savePath = dir } }

// WithDB attaches a database checkpoint sink; sampled records are appended
// to the samples table on every checkpoint flush.
func WithDB(db *sql.DB) Option { return func(e *Ensemble) { e.db = db } }

// WithLogger sets the progress logger.  Without it the ensemble is silent.
func WithLogger(lg *slog.Logger) Option { return func(e *Ensemble) { e.lg = lg } }

// WithParallel makes Walk step the selected walkers of each round in
// separate goroutines.  Chains are independent within a round and every
// walker owns its state and random source, so results are identical to the
// sequential schedule; rounds are barriered before any checkpoint flush.
// The model and cost must be safe for concurrent invocation.
func WithParallel() Option { return func(e *Ensemble) { e.parallel = true } }

// WithSeed seeds the ensemble's random source.  Walkers draw their own
// sources from it at creation, so a fixed seed plus a fixed sequence of
// operations reproduces identical run tables.
func WithSeed(seed int64) Option {
	return func(e *Ensemble) { e.rng = rand.New(rand.NewSource(seed)) }
}

func New(x, y []float64, model Model, opts ...Option) *Ensemble {
	e := &Ensemble{
		x:       append([]float64{}, x...),
		y:       append([]float64{}, y...),
		model:   model,
		flushed: map[flushKey]int{},
		lg:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		rng:     rand.New(rand.NewSource(1)),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.cost == nil {
		e.cost = LeastSquares{X: e.x, Y: e.y, Model: model}
	}
	return e
}

func (e *Ensemble) Len() int { return len(e.walkers) }

func (e *Ensemble) Walker(i int) *Walker { return e.walkers[i] }

// AddWalkers appends n walkers.  A nil p0 inherits the last walker's current
// position; a nil psig0 inherits the last walker's proposal widths, or unit
// widths for the first walker.
func (e *Ensemble) AddWalkers(n int, p0, psig0 []float64) error {
	if p0 == nil {
		if len(e.walkers) == 0 {
			return ErrNoInitialParams
		}
		p0 = e.walkers[len(e.walkers)-1].P()
	}
	if psig0 == nil && len(e.walkers) > 0 {
		psig0 = e.walkers[len(e.walkers)-1].Psig()
	}

	for i := 0; i < n; i++ {
		rng := rand.New(rand.NewSource(e.rng.Int63()))
		w, err := newWalker(e.x, e.y, e.model, e.cost, p0, psig0, rng)
		if err != nil {
			return err
		}
		e.walkers = append(e.walkers, w)
	}
	return nil
}

// Burn advances every walker nsteps without recording, so warm-up
// transients never enter any run's statistics.
func (e *Ensemble) Burn(nsteps int) error {
	for wi, w := range e.walkers {
		for i := 0; i < nsteps; i++ {
			if err := w.Step(""); err != nil {
				return fmt.Errorf("mcmc: burn failed on walker %v: %w", wi, err)
			}
		}
	}
	e.lg.Debug("burn complete", "nsteps", nsteps, "walkers", len(e.walkers))
	return nil
}

// Walk advances the selected walkers for nsteps rounds, one step per walker
// per round, all under the same run id.  A nil which selects every walker;
// an empty runID synthesizes the lowest-numbered "walkN" unused by any
// selected walker.  Every 10th round, when checkpointing is enabled and a
// save path or database sink is configured, the matching runs are flushed;
// a flush failure aborts the call.
func (e *Ensemble) Walk(nsteps int, which []int, runID string, checkpoint bool) error {
	if which == nil {
		which = make([]int, len(e.walkers))
		for i := range which {
			which[i] = i
		}
	}
	if runID == "" {
		runID = e.nextRunID(which)
	}

	for n := 0; n < nsteps; n++ {
		if err := e.stepRound(which, runID); err != nil {
			return err
		}

		if checkpoint && n%10 == 0 {
			if err := e.checkpoint(OneRun(runID)); err != nil {
				return err
			}
			e.lg.Debug("checkpoint", "run", runID, "round", n)
		}
	}
	return nil
}

// stepRound advances each selected walker by one step.  In parallel mode
// the steps run concurrently and the round completes before any error is
// reported, so every walker's state stays consistent as of the same round
// count.
func (e *Ensemble) stepRound(which []int, runID string) error {
	if !e.parallel || len(which) < 2 {
		for _, i := range which {
			if err := e.walkers[i].Step(runID); err != nil {
				return fmt.Errorf("mcmc: walk %q failed on walker %v: %w", runID, i, err)
			}
		}
		return nil
	}

	errs := make([]error, len(which))
	var wg sync.WaitGroup
	for k, i := range which {
		wg.Add(1)
		go func(k, i int) {
			defer wg.Done()
			errs[k] = e.walkers[i].Step(runID)
		}(k, i)
	}
	wg.Wait()

	for k, err := range errs {
		if err != nil {
			return fmt.Errorf("mcmc: walk %q failed on walker %v: %w", runID, which[k], err)
		}
	}
	return nil
}

// nextRunID picks the lowest "walkN" not already present on any of the
// given walkers.
func (e *Ensemble) nextRunID(which []int) string {
	for k := 0; ; k++ {
		id := fmt.Sprintf("walk%v", k)
		taken := false
		for _, i := range which {
			if _, ok := e.walkers[i].Run(id); ok {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

func (e *Ensemble) checkpoint(sel RunSelector) error {
	if e.savePath != "" {
		if err := e.SaveHistory(e.savePath, sel); err != nil {
			return fmt.Errorf("mcmc: checkpoint save failed: %w", err)
		}
	}
	if e.db != nil {
		if err := e.flushDB(sel); err != nil {
			return fmt.Errorf("mcmc: checkpoint db flush failed: %w", err)
		}
	}
	return nil
}

// CheckConvergence reports whether the chains agree on runID: every column
// of every walker's mean record must lie within tol of the grand mean across
// walkers.  The comparison covers the full mean record, cost column
// included, consistent with BestP's record layout.
func (e *Ensemble) CheckConvergence(runID string, tol float64) (bool, error) {
	if len(e.walkers) == 0 {
		return false, errors.New("mcmc: no walkers")
	}

	means := make([]Record, len(e.walkers))
	for i, w := range e.walkers {
		m, err := w.BestP(runID, MethodMean)
		if err != nil {
			return false, err
		}
		means[i] = m
	}

	width := len(means[0])
	col := make([]float64, len(means))
	grand := make([]float64, width)
	for j := 0; j < width; j++ {
		for i, m := range means {
			col[i] = m[j]
		}
		grand[j] = stat.Mean(col, nil)
	}

	for _, m := range means {
		for j, v := range m {
			if math.Abs(v-grand[j]) >= tol {
				return false, nil
			}
		}
	}
	return true, nil
}

// MoveToBestWalker re-centers the ensemble: the best record of runID under
// the given method is taken from every walker, the one with minimum cost
// wins, and every walker is moved to its parameters with a copy of the
// winning walker's proposal widths.
func (e *Ensemble) MoveToBestWalker(runID, method string) error {
	if len(e.walkers) == 0 {
		return errors.New("mcmc: no walkers")
	}

	var best Record
	besti := 0
	for i, w := range e.walkers {
		rec, err := w.BestP(runID, method)
		if err != nil {
			return err
		}
		if best == nil || rec.Cost() < best.Cost() {
			best, besti = rec, i
		}
	}

	pos := best.Params()
	psig := e.walkers[besti].Psig()
	for _, w := range e.walkers {
		if err := w.moveTo(pos, psig); err != nil {
			return err
		}
	}
	e.lg.Debug("recentered ensemble", "run", runID, "walker", besti, "cost", best.Cost())
	return nil
}

// RunIDs returns the sorted union of run ids across all walkers.
func (e *Ensemble) RunIDs() []string {
	seen := map[string]bool{}
	ids := []string{}
	for _, w := range e.walkers {
		for _, id := range w.RunIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Accepted stacks the records of runID from every walker that has it into a
// single table, in walker order.  This is the read-only snapshot external
// consumers (plotting, reporting) work from.
func (e *Ensemble) Accepted(runID string) (*Run, error) {
	stacked := &Run{}
	for _, w := range e.walkers {
		run, ok := w.Run(runID)
		if !ok {
			continue
		}
		for i := 0; i < run.Len(); i++ {
			stacked.Append(append(Record{}, run.At(i)...))
		}
	}
	if stacked.Len() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRun, runID)
	}
	return stacked, nil
}
