// Package query implements the field-expression engine of spec.md 4.E:
// parsing field expressions, resolving derived fields, combining LIDs,
// aggregating across IDs and LIDs, and capping per-query memory use.
// Grounded on original_source/loadit/queries.py and database.py's query().
package query

import "math"

// Matrix is an n_LIDs x n_IDs tile of values, row-major (row = LID).
type Matrix [][]float64

func newMatrix(nRows, nCols int) Matrix {
	m := make(Matrix, nRows)
	for i := range m {
		m[i] = make([]float64, nCols)
	}
	return m
}

func cols(m Matrix) int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// broadcastRow repeats a length-n_IDs vector into an n_LIDs x n_IDs matrix,
// used to give a geometry vector (e.g. "thickness") the same shape as a
// stored/derived field when a derived-field kernel needs both.
func broadcastRow(vec []float64, nRows int) Matrix {
	m := make(Matrix, nRows)
	for i := range m {
		m[i] = vec
	}
	return m
}

// AbsMatrix returns the element-wise absolute value of m.
func AbsMatrix(m Matrix) Matrix {
	out := newMatrix(len(m), cols(m))
	for i, row := range m {
		for j, v := range row {
			out[i][j] = math.Abs(v)
		}
	}
	return out
}
