package mcmc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func lineModel(x, p []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = p[0]*v + p[1]
	}
	return y
}

func testData() (x, y []float64) {
	x = make([]float64, 20)
	for i := range x {
		x[i] = float64(i) / 2
	}
	return x, lineModel(x, []float64{2.5, -1})
}

func TestAddWalkersRequiresP0(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)

	if err := e.AddWalkers(1, nil, nil); !errors.Is(err, ErrNoInitialParams) {
		t.Errorf("expected ErrNoInitialParams, got %v", err)
	}
}

func TestAddWalkersInherits(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)

	if err := e.AddWalkers(1, []float64{1, 0}, []float64{0.3, 0.7}); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}
	if err := e.AddWalkers(2, nil, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	if e.Len() != 3 {
		t.Fatalf("expected 3 walkers, got %v", e.Len())
	}
	for i := 1; i < 3; i++ {
		w := e.Walker(i)
		if p := w.P(); p[0] != 1 || p[1] != 0 {
			t.Errorf("walker %v position not inherited: %v", i, p)
		}
		if sig := w.Psig(); sig[0] != 0.3 || sig[1] != 0.7 {
			t.Errorf("walker %v psig not inherited: %v", i, sig)
		}
	}
}

func TestBurnRecordsNothing(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(2, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	p0 := e.Walker(0).P()
	if err := e.Burn(30); err != nil {
		t.Fatalf("[ERROR] burn failed: %v", err)
	}

	if ids := e.RunIDs(); len(ids) != 0 {
		t.Errorf("burn must not create runs, got %v", ids)
	}
	p1 := e.Walker(0).P()
	if p0[0] == p1[0] && p0[1] == p1[1] {
		t.Error("burn did not advance the chain")
	}
}

func TestWalkRoundRobinAndAutoName(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(3, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	if err := e.Walk(4, nil, "", false); err != nil {
		t.Fatalf("[ERROR] walk failed: %v", err)
	}
	if err := e.Walk(2, nil, "", false); err != nil {
		t.Fatalf("[ERROR] walk failed: %v", err)
	}

	for i := 0; i < e.Len(); i++ {
		w := e.Walker(i)
		if run, ok := w.Run("walk0"); !ok || run.Len() != 4 {
			t.Errorf("walker %v: expected walk0 with 4 records, got %v", i, w.RunIDs())
		}
		if run, ok := w.Run("walk1"); !ok || run.Len() != 2 {
			t.Errorf("walker %v: expected walk1 with 2 records, got %v", i, w.RunIDs())
		}
	}
}

func TestWalkSubset(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(3, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	if err := e.Walk(5, []int{1}, "prod", false); err != nil {
		t.Fatalf("[ERROR] walk failed: %v", err)
	}

	for i := 0; i < e.Len(); i++ {
		_, ok := e.Walker(i).Run("prod")
		if want := i == 1; ok != want {
			t.Errorf("walker %v: has prod run = %v, want %v", i, ok, want)
		}
	}
}

func TestWalkCheckpointsEveryTenth(t *testing.T) {
	x, y := testData()
	dir := t.TempDir()
	e := New(x, y, lineModel, WithSavePath(dir))
	if err := e.AddWalkers(2, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	if err := e.Walk(11, nil, "prod", true); err != nil {
		t.Fatalf("[ERROR] walk failed: %v", err)
	}

	// Flushes happen after rounds 0 and 10; the last flush sees all 11 rows.
	for wi := 0; wi < 2; wi++ {
		path := filepath.Join(dir, fmt.Sprintf("prod_%v.dat", wi))
		run, err := readRun(path)
		if err != nil {
			t.Fatalf("[ERROR] reading checkpoint %v: %v", path, err)
		}
		if run.Len() != 11 {
			t.Errorf("walker %v checkpoint: expected 11 rows, got %v", wi, run.Len())
		}
	}
}

func TestWalkCheckpointFailureAborts(t *testing.T) {
	x, y := testData()
	dir := filepath.Join(t.TempDir(), "missing")
	e := New(x, y, lineModel, WithSavePath(dir))
	if err := e.AddWalkers(1, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	err := e.Walk(5, nil, "prod", true)
	if err == nil {
		t.Fatal("expected walk to abort on checkpoint failure")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected missing-directory error, got %v", err)
	}
}

func TestCheckConvergence(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(3, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	offsets := []float64{0, 5e-4, -5e-4}
	for i := 0; i < 3; i++ {
		d := offsets[i]
		e.Walker(i).runs["prod"] = &Run{recs: []Record{{1 + d, 2 + d, 3 + d}}}
	}

	conv, err := e.CheckConvergence("prod", 1e-3)
	if err != nil {
		t.Fatalf("[ERROR] CheckConvergence failed: %v", err)
	}
	if !conv {
		t.Error("expected convergence with means within 1e-3")
	}

	e.Walker(1).runs["prod"] = &Run{recs: []Record{{1 + 2e-3, 2 + 2e-3, 3 + 2e-3}}}
	conv, err = e.CheckConvergence("prod", 1e-3)
	if err != nil {
		t.Fatalf("[ERROR] CheckConvergence failed: %v", err)
	}
	if conv {
		t.Error("expected no convergence after perturbing one mean by 2e-3")
	}
}

func TestCheckConvergenceUnknownRun(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(1, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	if _, err := e.CheckConvergence("nope", 1e-3); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("expected ErrUnknownRun, got %v", err)
	}
}

func TestMoveToBestWalker(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(3, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	recents := []Record{{5, 1, 1}, {2, 7, 8}, {9, 0, 0}}
	for i := 0; i < 3; i++ {
		e.Walker(i).runs["prod"] = &Run{recs: []Record{recents[i]}}
	}
	e.Walker(1).psig = []float64{0.3, 0.4}

	if err := e.MoveToBestWalker("prod", MethodRecent); err != nil {
		t.Fatalf("[ERROR] MoveToBestWalker failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		w := e.Walker(i)
		if p := w.P(); p[0] != 7 || p[1] != 8 {
			t.Errorf("walker %v: expected position [7 8] (cost column stripped), got %v", i, p)
		}
		if sig := w.Psig(); sig[0] != 0.3 || sig[1] != 0.4 {
			t.Errorf("walker %v: expected psig [0.3 0.4], got %v", i, sig)
		}
	}

	// Widths must be copies, not shared slices.
	e.Walker(0).psig[0] = 99
	if sig := e.Walker(2).Psig(); sig[0] != 0.3 {
		t.Error("psig must be copied per walker on re-centering")
	}
}

func TestDeterminism(t *testing.T) {
	x, y := testData()

	sample := func() *Ensemble {
		e := New(x, y, lineModel, WithSeed(42))
		if err := e.AddWalkers(3, []float64{1, 0}, nil); err != nil {
			t.Fatalf("[ERROR] AddWalkers failed: %v", err)
		}
		if err := e.Burn(5); err != nil {
			t.Fatalf("[ERROR] burn failed: %v", err)
		}
		if err := e.Walk(20, nil, "prod", false); err != nil {
			t.Fatalf("[ERROR] walk failed: %v", err)
		}
		return e
	}

	a, b := sample(), sample()
	for wi := 0; wi < a.Len(); wi++ {
		ra, _ := a.Walker(wi).Run("prod")
		rb, _ := b.Walker(wi).Run("prod")
		if ra.Len() != rb.Len() {
			t.Fatalf("walker %v: run lengths differ: %v vs %v", wi, ra.Len(), rb.Len())
		}
		for i := 0; i < ra.Len(); i++ {
			reca, recb := ra.At(i), rb.At(i)
			for j := range reca {
				if reca[j] != recb[j] {
					t.Fatalf("walker %v record %v differs at column %v: %v vs %v", wi, i, j, reca[j], recb[j])
				}
			}
		}
	}
}

// Parallel rounds must produce byte-identical chains to the sequential
// schedule: walkers are independent within a round and own their sources.
func TestParallelMatchesSerial(t *testing.T) {
	x, y := testData()

	sample := func(opts ...Option) *Ensemble {
		e := New(x, y, lineModel, append([]Option{WithSeed(9)}, opts...)...)
		if err := e.AddWalkers(4, []float64{1, 0}, nil); err != nil {
			t.Fatalf("[ERROR] AddWalkers failed: %v", err)
		}
		if err := e.Walk(25, nil, "prod", false); err != nil {
			t.Fatalf("[ERROR] walk failed: %v", err)
		}
		return e
	}

	serial, parallel := sample(), sample(WithParallel())
	for wi := 0; wi < serial.Len(); wi++ {
		rs, _ := serial.Walker(wi).Run("prod")
		rp, _ := parallel.Walker(wi).Run("prod")
		if rs.Len() != rp.Len() {
			t.Fatalf("walker %v: run lengths differ: %v vs %v", wi, rs.Len(), rp.Len())
		}
		for i := 0; i < rs.Len(); i++ {
			for j := range rs.At(i) {
				if rs.At(i)[j] != rp.At(i)[j] {
					t.Fatalf("walker %v record %v column %v differs: %v vs %v", wi, i, j, rs.At(i)[j], rp.At(i)[j])
				}
			}
		}
	}
}

func TestAcceptedStacksRuns(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(3, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	if err := e.Walk(4, []int{0, 2}, "prod", false); err != nil {
		t.Fatalf("[ERROR] walk failed: %v", err)
	}

	stacked, err := e.Accepted("prod")
	if err != nil {
		t.Fatalf("[ERROR] Accepted failed: %v", err)
	}
	if stacked.Len() != 8 {
		t.Errorf("expected 8 stacked records (2 walkers x 4 steps), got %v", stacked.Len())
	}

	if _, err := e.Accepted("nope"); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("expected ErrUnknownRun, got %v", err)
	}
}

func TestRunIDsUnion(t *testing.T) {
	x, y := testData()
	e := New(x, y, lineModel)
	if err := e.AddWalkers(2, []float64{1, 0}, nil); err != nil {
		t.Fatalf("[ERROR] AddWalkers failed: %v", err)
	}

	if err := e.Walk(1, []int{0}, "alpha", false); err != nil {
		t.Fatalf("[ERROR] walk failed: %v", err)
	}
	if err := e.Walk(1, []int{1}, "beta", false); err != nil {
		t.Fatalf("[ERROR] walk failed: %v", err)
	}

	ids := e.RunIDs()
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Errorf("expected [alpha beta], got %v", ids)
	}
}
