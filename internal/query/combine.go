package query

import "sort"

// Term is one (coefficient, LID) pair of a linear combination.
type Term struct {
	Coeff float64
	LID   int64
}

// ResolveCombinedLIDs implements spec.md 4.E's LID-combination resolution:
// partition referenced LIDs into stored vs. combined-referenced, read the
// stored ones into a scratch block, then evaluate each combination in
// input order, writing the result back into the scratch block when a later
// combination references it.
//
// order is the combinations' new LIDs in input order; combos maps each new
// LID to its terms. readStored reads a field's values for a set of stored
// LIDs, returned in the same order as the requested slice.
func ResolveCombinedLIDs(order []int64, combos map[int64][]Term, readStored func(lids []int64) (Matrix, error)) (Matrix, error) {
	isCombo := make(map[int64]bool, len(combos))
	for lid := range combos {
		isCombo[lid] = true
	}

	storedSet := map[int64]bool{}
	combinedSet := map[int64]bool{}
	for _, newLID := range order {
		for _, term := range combos[newLID] {
			if isCombo[term.LID] {
				combinedSet[term.LID] = true
			} else {
				storedSet[term.LID] = true
			}
		}
	}

	storedList := sortedInt64s(storedSet)
	combinedList := sortedInt64s(combinedSet)

	scratchIndex := make(map[int64]int, len(storedList)+len(combinedList))
	for i, l := range storedList {
		scratchIndex[l] = i
	}
	for i, l := range combinedList {
		scratchIndex[l] = len(storedList) + i
	}

	storedValues, err := readStored(storedList)
	if err != nil {
		return nil, err
	}

	nIDs := cols(storedValues)
	scratch := newMatrix(len(storedList)+len(combinedList), nIDs)
	for i, row := range storedValues {
		copy(scratch[i], row)
	}

	out := newMatrix(len(order), nIDs)
	for oi, newLID := range order {
		row := make([]float64, nIDs)
		for _, term := range combos[newLID] {
			idx := scratchIndex[term.LID]
			src := scratch[idx]
			for j := 0; j < nIDs; j++ {
				row[j] += term.Coeff * src[j]
			}
		}
		out[oi] = row
		if idx, referenced := scratchIndex[newLID]; referenced && combinedSet[newLID] {
			scratch[idx] = row
		}
	}
	return out, nil
}

func sortedInt64s(set map[int64]bool) []int64 {
	out := make([]int64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
