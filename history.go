package mcmc

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// SaveHistory writes the selected runs under dir, one plain-text file per
// (run, walker) pair named "<runID>_<wi>.dat".  Each record becomes one
// line of space-separated values formatted to 5 significant digits in
// scientific notation.  An empty dir falls back to the configured save
// path; with neither, ErrNoSavePath is returned.
func (e *Ensemble) SaveHistory(dir string, sel RunSelector) error {
	if dir == "" {
		dir = e.savePath
	}
	if dir == "" {
		return ErrNoSavePath
	}

	for wi, w := range e.walkers {
		for _, id := range w.RunIDs() {
			if !sel.Match(id) {
				continue
			}
			run, _ := w.Run(id)
			path := filepath.Join(dir, fmt.Sprintf("%s_%v.dat", id, wi))
			if err := writeRun(path, run); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeRun(path string, run *Run) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	buf := bufio.NewWriter(f)
	for i := 0; i < run.Len(); i++ {
		for j, v := range run.At(i) {
			if j > 0 {
				buf.WriteByte(' ')
			}
			fmt.Fprintf(buf, "%.5e", v)
		}
		buf.WriteByte('\n')
	}

	if err := buf.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadHistory rebuilds walkers from files previously written by
// SaveHistory.  Files are grouped by the walker index after the final
// underscore of the name; each group becomes one walker appended in
// ascending index order, positioned at the parameters of its first loaded
// record with unit proposal widths.  Malformed file names, non-numeric
// values, and record widths that disagree within a walker's group are all
// hard errors; nothing is truncated or padded to fit.
func (e *Ensemble) LoadHistory(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.dat"))
	if err != nil {
		return err
	}

	groups := map[int]map[string]*Run{}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".dat")
		k := strings.LastIndex(name, "_")
		if k < 1 {
			return fmt.Errorf("mcmc: malformed run file name %q", filepath.Base(path))
		}
		wi, err := strconv.Atoi(name[k+1:])
		if err != nil {
			return fmt.Errorf("mcmc: malformed walker index in file name %q", filepath.Base(path))
		}

		run, err := readRun(path)
		if err != nil {
			return err
		}
		if groups[wi] == nil {
			groups[wi] = map[string]*Run{}
		}
		groups[wi][name[:k]] = run
	}

	indices := make([]int, 0, len(groups))
	for wi := range groups {
		indices = append(indices, wi)
	}
	sort.Ints(indices)

	for _, wi := range indices {
		runs := groups[wi]

		ids := make([]string, 0, len(runs))
		for id := range runs {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		first := runs[ids[0]].At(0)
		for _, id := range ids {
			if run := runs[id]; run.Width() != len(first) {
				return fmt.Errorf("mcmc: inconsistent record widths for walker %v: %v vs %v", wi, len(first), run.Width())
			}
		}

		rng := rand.New(rand.NewSource(e.rng.Int63()))
		w, err := newWalker(e.x, e.y, e.model, e.cost, first.Params(), nil, rng)
		if err != nil {
			return err
		}
		w.runs = runs
		e.walkers = append(e.walkers, w)
	}
	return nil
}

func readRun(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	run := &Run{}
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		fields := strings.Fields(scan.Text())
		if len(fields) == 0 {
			continue
		}

		rec := make(Record, len(fields))
		for i, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("mcmc: bad value %q in %v: %w", s, path, err)
			}
			rec[i] = v
		}

		if run.Len() > 0 && len(rec) != run.Width() {
			return nil, fmt.Errorf("mcmc: inconsistent record width in %v: %v vs %v", path, run.Width(), len(rec))
		}
		run.Append(rec)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if run.Len() == 0 {
		return nil, fmt.Errorf("mcmc: empty run file %v", path)
	}
	return run, nil
}
