// Package field implements the dual-layout memory-mapped field reader of
// spec.md 4.C: each field file holds a row-major block (by LID) followed by
// an equal-size column-major block (by ID), and Read picks whichever view
// minimizes disk seeks for the requested selection.
package field

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/mmapfile"
	"github.com/alvarosanz/loadit/internal/schema"
)

// Field is a lazily-mapped, read-only view over one column's .bin file.
type Field struct {
	path  string
	dtype schema.Dtype
	nLIDs int64
	nIDs  int64

	mu       sync.Mutex
	data     []byte
	closeMap func() error
}

// Open returns a Field handle for path; the file is not mapped until the
// first Read call ("both views are lazily opened and cached", spec.md 4.C).
func Open(path string, dtype schema.Dtype, nLIDs, nIDs int64) *Field {
	return &Field{path: path, dtype: dtype, nLIDs: nLIDs, nIDs: nIDs}
}

func (f *Field) ensureMapped() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data != nil {
		return nil
	}
	data, closer, err := mmapfile.Map(f.path)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "map field file", err)
	}
	f.data = data
	f.closeMap = closer
	return nil
}

// Close unmaps the field, if mapped. Must be called before the owning table
// truncates or renames the underlying file (spec.md 3).
func (f *Field) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeMap == nil {
		return nil
	}
	err := f.closeMap()
	f.data, f.closeMap = nil, nil
	return err
}

// Read gathers out[i][j] = value at (row lidIdxs[i], column idIdxs[j]),
// where both are 0-based positions into the table's LID/ID vectors. A nil
// slice for either axis means "all" (spec.md 4.C). The view chosen is
// whichever axis is shorter: iterate LIDs and gather IDs from each row
// (by_LID) when |lidIdxs| < |idIdxs|, else iterate IDs and gather LIDs from
// each column (by_ID).
func (f *Field) Read(lidIdxs, idIdxs []int) ([][]float64, error) {
	if err := f.ensureMapped(); err != nil {
		return nil, err
	}

	if lidIdxs == nil {
		lidIdxs = sequence(f.nLIDs)
	}
	if idIdxs == nil {
		idIdxs = sequence(f.nIDs)
	}

	width := int64(f.dtype.Size())
	out := make([][]float64, len(lidIdxs))
	for i := range out {
		out[i] = make([]float64, len(idIdxs))
	}

	if len(lidIdxs) < len(idIdxs) {
		for i, lidIdx := range lidIdxs {
			rowOffset := int64(lidIdx) * f.nIDs * width
			for j, idIdx := range idIdxs {
				out[i][j] = f.decodeAt(rowOffset + int64(idIdx)*width)
			}
		}
		return out, nil
	}

	transposeOffset := f.nLIDs * f.nIDs * width
	for j, idIdx := range idIdxs {
		colOffset := transposeOffset + int64(idIdx)*f.nLIDs*width
		for i, lidIdx := range lidIdxs {
			out[i][j] = f.decodeAt(colOffset + int64(lidIdx)*width)
		}
	}
	return out, nil
}

func (f *Field) decodeAt(offset int64) float64 {
	width := f.dtype.Size()
	chunk := f.data[offset : offset+int64(width)]
	switch f.dtype {
	case schema.DtypeFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
	case schema.DtypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(chunk))
	case schema.DtypeInt64:
		return float64(int64(binary.LittleEndian.Uint64(chunk)))
	default:
		return 0
	}
}

func sequence(n int64) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
