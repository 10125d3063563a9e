package mcmc

import "gonum.org/v1/gonum/floats"

// Record is one sampled state: the cost followed by the parameter vector.
// The leading cost field is part of the record everywhere a record is
// returned; use Params to strip it when a bare parameter vector is needed.
type Record []float64

func (r Record) Cost() float64 { return r[0] }

// Params returns the parameter fields of the record.  The returned slice
// aliases the record.
func (r Record) Params() []float64 { return r[1:] }

// Run is an append-only table of records sampled under one run id.  All
// records in a run share the same width.
type Run struct {
	recs []Record
}

func (r *Run) Append(rec Record) { r.recs = append(r.recs, rec) }

func (r *Run) Len() int { return len(r.recs) }

// Width is the number of columns per record, 1+ndims, or zero for an empty
// run.
func (r *Run) Width() int {
	if len(r.recs) == 0 {
		return 0
	}
	return len(r.recs[0])
}

func (r *Run) At(i int) Record { return r.recs[i] }

// Recent returns a copy of the most recently appended record.
func (r *Run) Recent() Record {
	return append(Record{}, r.recs[len(r.recs)-1]...)
}

// Mean returns the column-wise mean over all records.  The mean is taken
// over the full record, cost column included.
func (r *Run) Mean() Record {
	m := make(Record, r.Width())
	for _, rec := range r.recs {
		floats.Add(m, rec)
	}
	floats.Scale(1/float64(len(r.recs)), m)
	return m
}
