package queryexec

import (
	"testing"

	"github.com/alvarosanz/loadit/internal/query"
	"github.com/alvarosanz/loadit/internal/queryfile"
)

// ABS(.) wraps the last aggregation segment (spec.md 4.E; ground-truthed
// against original_source/loadit/database.py's is_abs), so it must be
// applied to the aggregated result, not to the raw per-ID values feeding
// the aggregation: abs(max(x)) != max(abs(x)) whenever x crosses zero.
func TestAppendLevel0RowsAppliesAbsToRawValues(t *testing.T) {
	exprs := []query.Expr{{Raw: "ABS(NX)", Abs: true, Base: "NX"}}
	matrices := []query.Matrix{{{-3, 4}}}
	groups := []columnGroup{{Name: "1", ID: 1, IDs: []int64{1}}, {Name: "2", ID: 2, IDs: []int64{2}}}

	res := &Result{}
	appendLevel0Rows(res, matrices, []int64{10}, groups, exprs)

	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	if res.Rows[0].Values[0] != 3 {
		t.Fatalf("row0 value = %v, want 3", res.Rows[0].Values[0])
	}
	if res.Rows[1].Values[0] != 4 {
		t.Fatalf("row1 value = %v, want 4", res.Rows[1].Values[0])
	}
}

func TestAppendLevel1RowsAppliesAbsAfterAggregation(t *testing.T) {
	// Base: Abs on NX-MAX ("NX-ABS(MAX)"): group values [-5, -9] feed MAX,
	// a case where abs-after-aggregation and abs-before-aggregation diverge.
	exprs := []query.Expr{{Raw: "NX-ABS(MAX)", Abs: true, Base: "NX", Agg1: "MAX"}}
	matrices := []query.Matrix{{{-5, -9}}}
	groups := []columnGroup{{Name: "g1", IDs: []int64{1, 2}}}

	res := &Result{}
	appendLevel1Rows(res, matrices, []int64{10}, groups, queryfile.QueryFile{}, exprs)

	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(res.Rows))
	}
	// MAX(-5, -9) = -5, then ABS(-5) = 5. If ABS were (wrongly) applied
	// before aggregation, MAX(5, 9) = 9 would be produced instead.
	if got := res.Rows[0].Values[0]; got != 5 {
		t.Fatalf("value = %v, want 5 (abs applied after aggregation, not before)", got)
	}
}

func TestAccumulatorFlushAppliesAbsAfterReduction(t *testing.T) {
	exprs := []query.Expr{{Raw: "NX-MAX-ABS(MAX)", Abs: true, Base: "NX", Agg1: "MAX", Agg2: "MAX"}}
	groups := []columnGroup{{Name: "g1", ID: 1, IDs: []int64{1, 2}}}

	acc := newAccumulator(groups, 1)
	// One LID batch: group g1's per-ID values are -5 and -2; stage-1 MAX
	// across IDs within the group yields -2; stage-2 MAX across the single
	// LID leaves -2, then ABS(-2) = 2.
	matrices := []query.Matrix{{{-5, -2}}}
	acc.absorb(matrices, []int64{10}, false, exprs, queryfile.QueryFile{}, groups, true)

	res := &Result{}
	acc.flush(res, groups, true, exprs)

	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(res.Rows))
	}
	if got := res.Rows[0].Values[0]; got != 2 {
		t.Fatalf("value = %v, want 2 (abs applied after both aggregation stages)", got)
	}
}
