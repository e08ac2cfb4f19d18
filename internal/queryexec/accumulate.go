package queryexec

import (
	"math"

	"github.com/alvarosanz/loadit/internal/query"
	"github.com/alvarosanz/loadit/internal/queryfile"
)

// accumulator performs spec.md 4.E's level-2 reduction incrementally across
// memory-cap batches: each absorb call folds one LID batch's already
// within-group-aggregated values into a running per-group extreme plus the
// LID it occurred at, continuing from the previous batch's state
// (use_previous_agg = batch_index > 0) rather than holding every queried
// LID in memory at once. Grounded on queries.py's max_load/min_load, which
// the original keeps as a running (value, LID) pair across chunks for the
// same reason.
type accumulator struct {
	groups  []columnGroup
	out     [][]float64 // [field][group]
	outLIDs [][]int64   // [field][group]
	seen    []bool      // [field]: whether absorb has run at least once
}

func newAccumulator(groups []columnGroup, nFields int) *accumulator {
	a := &accumulator{
		groups:  groups,
		out:     make([][]float64, nFields),
		outLIDs: make([][]int64, nFields),
		seen:    make([]bool, nFields),
	}
	for i := range a.out {
		a.out[i] = make([]float64, len(groups))
		a.outLIDs[i] = make([]int64, len(groups))
	}
	return a
}

// absorb reduces one batch's per-field matrices (rows = lidBatch, columns =
// the groups' flattened stored IDs) to one value per group per LID — via
// exprs[i].Agg1 when groups were given, or trivially when each group is a
// singleton ID — then folds that per-LID series into the running extreme
// using exprs[i].Agg2 (or, for a level-1-without-groups token promoted to
// level 2, exprs[i].Agg1 itself as the across-LID reducer; spec.md 4.E).
func (a *accumulator) absorb(matrices []query.Matrix, lidBatch []int64, usePrevious bool, exprs []query.Expr, req queryfile.QueryFile, groups []columnGroup, groupsGiven bool) {
	offsets := groupColumnOffsets(groups)

	for fi, m := range matrices {
		series := make(query.Matrix, len(lidBatch))
		for li := range lidBatch {
			row := make([]float64, len(groups))
			for gi, g := range groups {
				start, end := offsets[g.Name][0], offsets[g.Name][1]
				stage1Agg := ""
				var weights []float64
				if groupsGiven {
					stage1Agg = exprs[fi].Agg1
					weights = groupWeights(req, g.IDs)
				}
				row[gi] = aggregate1(stage1Agg, m[li][start:end], weights)
			}
			series[li] = row
		}

		stage2Agg := exprs[fi].Agg2
		if stage2Agg == "" {
			stage2Agg = exprs[fi].Agg1
		}

		batchUsesPrevious := usePrevious || a.seen[fi]
		if stage2Agg == "MIN" {
			query.MinAcrossLIDs(series, lidBatch, a.out[fi], a.outLIDs[fi], batchUsesPrevious)
		} else {
			query.MaxAcrossLIDs(series, lidBatch, a.out[fi], a.outLIDs[fi], batchUsesPrevious)
		}
		a.seen[fi] = true
	}
}

// flush writes the final per-group rows. ABS(.) on an AGG2 (or promoted
// AGG1) token is applied here, to the fully-reduced extreme, matching
// database.py's np.abs(...) over the aggregated slot rather than the raw
// per-ID values. The critical LID recorded on each row is the first field's
// argmax/argmin; a query requesting several level-2 fields at once may see
// each field peak at a different LID, and Row has no room for more than one
// — a deliberate simplification, noted in DESIGN.md.
func (a *accumulator) flush(res *Result, groups []columnGroup, groupsGiven bool, exprs []query.Expr) {
	for gi, g := range groups {
		values := make([]float64, len(a.out))
		for fi := range a.out {
			v := a.out[fi][gi]
			if exprs[fi].Abs {
				v = math.Abs(v)
			}
			values[fi] = v
		}
		critical := int64(0)
		if len(a.outLIDs) > 0 {
			critical = a.outLIDs[0][gi]
		}
		row := Row{ID: g.ID, Values: values, Critical: critical}
		if groupsGiven {
			row.Group = g.Name
		}
		res.Rows = append(res.Rows, row)
	}
}
