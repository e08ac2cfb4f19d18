package query

import "github.com/alvarosanz/loadit/internal/loaditerr"

// SizePerLID is |level-0 fields| * n_IDs * sizeof(dtype), spec.md 4.E's
// "size_per_LC".
func SizePerLID(nLevel0Fields, nIDs, dtypeBytes int) int64 {
	return int64(nLevel0Fields) * int64(nIDs) * int64(dtypeBytes)
}

// LIDBatches splits nLIDsQueried LIDs into contiguous batches of at most
// maxMemory/sizePerLID LIDs each, per spec.md 4.E's memory cap. level must
// be 2 or this returns an OutOfMemory error (level < 2 queries cannot
// stream — spec.md: "If query level < 2, fail with OutOfMemory").
func LIDBatches(level int, nLIDsQueried int, sizePerLID, maxMemory int64) ([][2]int, error) {
	if sizePerLID*int64(nLIDsQueried) <= maxMemory {
		return [][2]int{{0, nLIDsQueried}}, nil
	}
	if level < 2 {
		return nil, loaditerr.Newf(loaditerr.KindOutOfMemory,
			"query exceeds memory cap (%d bytes) and cannot stream below level 2", maxMemory)
	}
	if sizePerLID <= 0 {
		return nil, loaditerr.New(loaditerr.KindOutOfMemory, "zero-size field cannot be batched")
	}

	batchSize := int(maxMemory / sizePerLID)
	if batchSize < 1 {
		return nil, loaditerr.Newf(loaditerr.KindOutOfMemory,
			"a single LID (%d bytes) exceeds the memory cap (%d bytes)", sizePerLID, maxMemory)
	}

	var batches [][2]int
	for start := 0; start < nLIDsQueried; start += batchSize {
		end := start + batchSize
		if end > nLIDsQueried {
			end = nLIDsQueried
		}
		batches = append(batches, [2]int{start, end})
	}
	return batches, nil
}
