package mcmc

import (
	"errors"
	"fmt"
)

var (
	ErrNoInitialParams = errors.New("mcmc: initial parameters required for the first walker")
	ErrUnknownRun      = errors.New("mcmc: unknown run id")
	ErrNoSavePath      = errors.New("mcmc: save path not specified")
)

// Model evaluates a parametric curve on the x grid with parameters p and
// returns one value per x. Implementations must be pure: walkers share a
// single model and may call it concurrently.
type Model func(x, p []float64) []float64

type Coster interface {
	// Cost evaluates the goodness-of-fit of the parameters in p.  The cost
	// must be framed so that lower values are better.  If the evaluation
	// fails, the error is propagated to the caller and aborts the current
	// step.
	Cost(p []float64) (float64, error)
}

type SimpleCoster func([]float64) float64

func (sc SimpleCoster) Cost(p []float64) (float64, error) { return sc(p), nil }

// LeastSquares is the default cost: the sum of squared residuals between
// the model curve and the data.
type LeastSquares struct {
	X, Y  []float64
	Model Model
}

func (ls LeastSquares) Cost(p []float64) (float64, error) {
	ym := ls.Model(ls.X, p)
	if len(ym) != len(ls.Y) {
		return 0, fmt.Errorf("mcmc: model returned %v values for %v data points", len(ym), len(ls.Y))
	}
	c := 0.0
	for i, v := range ym {
		d := v - ls.Y[i]
		c += d * d
	}
	return c, nil
}

// RunSelector picks which run ids an operation applies to.
type RunSelector struct {
	all bool
	ids []string
}

// AllRuns selects every run id present.
func AllRuns() RunSelector { return RunSelector{all: true} }

// OneRun selects a single run id.
func OneRun(id string) RunSelector { return RunSelector{ids: []string{id}} }

// Runs selects an explicit set of run ids.
func Runs(ids ...string) RunSelector {
	return RunSelector{ids: append([]string{}, ids...)}
}

func (rs RunSelector) Match(id string) bool {
	if rs.all {
		return true
	}
	for _, v := range rs.ids {
		if v == id {
			return true
		}
	}
	return false
}
