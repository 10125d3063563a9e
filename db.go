package mcmc

import "fmt"

// TblSamples holds one row per recorded step when a database sink is
// attached with WithDB.
const TblSamples = "samples"

type flushKey struct {
	wi  int
	run string
}

func xdbsql(op string, ndims int) string {
	s := ""
	for i := 0; i < ndims; i++ {
		switch op {
		case "?":
			s += ",?"
		case "define":
			s += fmt.Sprintf(",p%v REAL", i)
		case "p":
			s += fmt.Sprintf(",p%v", i)
		default:
			panic("invalid db op " + op)
		}
	}
	return s
}

func (e *Ensemble) initDB(ndims int) error {
	s := "CREATE TABLE IF NOT EXISTS " + TblSamples + " (walker INTEGER,run TEXT,step INTEGER,cost REAL"
	s += xdbsql("define", ndims)
	s += ");"
	_, err := e.db.Exec(s)
	return err
}

// flushDB appends all records written since the previous flush to the
// samples table, one transaction per flush.  Already-flushed rows are
// tracked per (walker, run) so repeated checkpoints never duplicate rows.
func (e *Ensemble) flushDB(sel RunSelector) error {
	if e.db == nil || len(e.walkers) == 0 {
		return nil
	}

	ndims := len(e.walkers[0].p)
	if err := e.initDB(ndims); err != nil {
		return err
	}

	tx, err := e.db.Begin()
	if err != nil {
		return err
	}

	stmt := "INSERT INTO " + TblSamples + " (walker,run,step,cost" + xdbsql("p", ndims) +
		") VALUES (?,?,?,?" + xdbsql("?", ndims) + ");"

	marks := map[flushKey]int{}
	for wi, w := range e.walkers {
		for _, id := range w.RunIDs() {
			if !sel.Match(id) {
				continue
			}
			run, _ := w.Run(id)

			key := flushKey{wi, id}
			for i := e.flushed[key]; i < run.Len(); i++ {
				rec := run.At(i)
				args := []interface{}{wi, id, i, rec.Cost()}
				args = append(args, pos2iface(rec.Params())...)
				if _, err := tx.Exec(stmt, args...); err != nil {
					tx.Rollback()
					return err
				}
			}
			marks[key] = run.Len()
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	for k, v := range marks {
		e.flushed[k] = v
	}
	return nil
}

func pos2iface(pos []float64) []interface{} {
	iface := make([]interface{}, len(pos))
	for i, v := range pos {
		iface[i] = v
	}
	return iface
}
