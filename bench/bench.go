// Package bench provides synthetic curve-fitting problems with known true
// parameters for exercising the sampler end to end.
package bench

import (
	"fmt"
	"math"
	"math/rand"

	mcmc "github.com/richardseifert/PyFAM"
)

var AllFuncs = []Func{
	Line{},
	Gaussian{},
	ExpDecay{},
	Sine{},
}

type Func interface {
	Name() string
	// Eval computes the model curve on x with parameters p.  The signature
	// matches mcmc.Model so a Func can be handed to the sampler directly.
	Eval(x, p []float64) []float64
	// TrueP is the parameter vector the synthetic data is generated from.
	TrueP() []float64
	// StartP is a deliberately wrong starting position for the walkers.
	StartP() []float64
	// Domain is the x interval the data is sampled on.
	Domain() (lo, hi float64)
}

// Line fits y = p0*x + p1.
type Line struct{}

func (fn Line) Name() string { return "Line" }

func (fn Line) Eval(x, p []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = p[0]*v + p[1]
	}
	return y
}

func (fn Line) TrueP() []float64         { return []float64{2.5, -1} }
func (fn Line) StartP() []float64        { return []float64{1, 0} }
func (fn Line) Domain() (lo, hi float64) { return -5, 5 }

// Gaussian fits y = p0*exp(-(x-p1)^2 / (2*p2^2)).
type Gaussian struct{}

func (fn Gaussian) Name() string { return "Gaussian" }

func (fn Gaussian) Eval(x, p []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		d := v - p[1]
		y[i] = p[0] * math.Exp(-d*d/(2*p[2]*p[2]))
	}
	return y
}

func (fn Gaussian) TrueP() []float64         { return []float64{3, 0.5, 1.2} }
func (fn Gaussian) StartP() []float64        { return []float64{1, 0, 1} }
func (fn Gaussian) Domain() (lo, hi float64) { return -4, 5 }

// ExpDecay fits y = p0*exp(-x/p1).
type ExpDecay struct{}

func (fn ExpDecay) Name() string { return "ExpDecay" }

func (fn ExpDecay) Eval(x, p []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = p[0] * math.Exp(-v/p[1])
	}
	return y
}

func (fn ExpDecay) TrueP() []float64         { return []float64{2, 1.5} }
func (fn ExpDecay) StartP() []float64        { return []float64{1, 1} }
func (fn ExpDecay) Domain() (lo, hi float64) { return 0, 6 }

// Sine fits y = p0*sin(p1*x + p2).  The cost surface is multi-modal in p1
// and p2, which makes this the hardest of the set.
type Sine struct{}

func (fn Sine) Name() string { return "Sine" }

func (fn Sine) Eval(x, p []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = p[0] * math.Sin(p[1]*v+p[2])
	}
	return y
}

func (fn Sine) TrueP() []float64         { return []float64{1.5, 2, 0.3} }
func (fn Sine) StartP() []float64        { return []float64{1, 1.8, 0} }
func (fn Sine) Domain() (lo, hi float64) { return 0, 6.3 }

// Grid returns n evenly spaced points over fn's domain.
func Grid(fn Func, n int) []float64 {
	lo, hi := fn.Domain()
	x := make([]float64, n)
	for i := range x {
		x[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return x
}

// Sample evaluates fn at its true parameters on x and adds Gaussian noise.
func Sample(fn Func, x []float64, noise float64, rng *rand.Rand) []float64 {
	y := fn.Eval(x, fn.TrueP())
	for i := range y {
		y[i] += rng.NormFloat64() * noise
	}
	return y
}

// Benchmark runs the full fitting pipeline on fn's synthetic data: burn-in,
// a short recorded pilot run, re-centering on the best walker, a production
// run, and a convergence check.  It returns the minimum-cost mean record
// across walkers.
func Benchmark(fn Func, nwalkers, nburn, nwalk int, seed int64) (best mcmc.Record, converged bool, err error) {
	rng := rand.New(rand.NewSource(seed))
	x := Grid(fn, 101)
	y := Sample(fn, x, 0.05, rng)

	e := mcmc.New(x, y, fn.Eval, mcmc.WithSeed(seed))
	if err := e.AddWalkers(nwalkers, fn.StartP(), nil); err != nil {
		return nil, false, err
	}
	if err := e.Burn(nburn); err != nil {
		return nil, false, err
	}

	if err := e.Walk(nburn/4+1, nil, "pilot", false); err != nil {
		return nil, false, err
	}
	if err := e.MoveToBestWalker("pilot", mcmc.MethodRecent); err != nil {
		return nil, false, err
	}

	if err := e.Walk(nwalk, nil, "prod", false); err != nil {
		return nil, false, err
	}
	converged, err = e.CheckConvergence("prod", 0.5)
	if err != nil {
		return nil, false, err
	}

	for i := 0; i < e.Len(); i++ {
		rec, err := e.Walker(i).BestP("prod", mcmc.MethodMean)
		if err != nil {
			return nil, false, err
		}
		if best == nil || rec.Cost() < best.Cost() {
			best = rec
		}
	}
	if best == nil {
		return nil, false, fmt.Errorf("bench: no walkers produced a best record for %v", fn.Name())
	}
	return best, converged, nil
}
