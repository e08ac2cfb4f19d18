package query

import "math"

// AggregateGroupAvg reduces each row of m (one group's ID columns) to a
// single weighted average, NaN cells excluded from both sum and weight
// total. weights may be nil (uniform weight 1).
func AggregateGroupAvg(m Matrix, weights []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		var sum, wsum float64
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			w := 1.0
			if weights != nil {
				w = weights[j]
			}
			sum += v * w
			wsum += w
		}
		if wsum == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = sum / wsum
		}
	}
	return out
}

// AggregateGroupMax reduces each row to its maximum, ignoring NaN cells
// unless every cell in the row is NaN.
func AggregateGroupMax(m Matrix) []float64 { return aggregateGroupExtreme(m, true) }

// AggregateGroupMin reduces each row to its minimum, ignoring NaN cells
// unless every cell in the row is NaN.
func AggregateGroupMin(m Matrix) []float64 { return aggregateGroupExtreme(m, false) }

func aggregateGroupExtreme(m Matrix, wantMax bool) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		best := math.NaN()
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(best) || (wantMax && v > best) || (!wantMax && v < best) {
				best = v
			}
		}
		out[i] = best
	}
	return out
}

// MaxAcrossLIDs reduces m (rows = LIDs already aggregated to one value per
// group) to a single maximum per column plus the LID at which it occurred,
// optionally continuing from a previous incremental pass (use_previous_agg
// in queries.py's max_load). NaN never wins: a NaN current best is always
// replaced by the next value (NaN or not); a NaN candidate never replaces a
// real current best.
func MaxAcrossLIDs(m Matrix, lids []int64, out []float64, outLIDs []int64, usePrevious bool) {
	extremeAcrossLIDs(m, lids, out, outLIDs, usePrevious, true)
}

// MinAcrossLIDs is MaxAcrossLIDs's mirror for the minimum.
func MinAcrossLIDs(m Matrix, lids []int64, out []float64, outLIDs []int64, usePrevious bool) {
	extremeAcrossLIDs(m, lids, out, outLIDs, usePrevious, false)
}

func extremeAcrossLIDs(m Matrix, lids []int64, out []float64, outLIDs []int64, usePrevious, wantMax bool) {
	if len(m) == 0 {
		return
	}
	n := cols(m)
	start := 0
	if !usePrevious {
		for j := 0; j < n; j++ {
			out[j] = m[0][j]
			outLIDs[j] = lids[0]
		}
		start = 1
	}
	for i := start; i < len(m); i++ {
		for j := 0; j < n; j++ {
			if (wantMax && m[i][j] > out[j]) || (!wantMax && m[i][j] < out[j]) || math.IsNaN(out[j]) {
				out[j] = m[i][j]
				outLIDs[j] = lids[i]
			}
		}
	}
}
