package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/alvarosanz/loadit/internal/clog"
	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/mmapfile"
	"github.com/alvarosanz/loadit/internal/punch"
	"github.com/alvarosanz/loadit/internal/schema"
)

// DefaultMaxChunkBytes bounds a single seal-time transpose slab, per spec.md
// 4.B ("seal_transposes(header, max_chunk_bytes)").
const DefaultMaxChunkBytes = 64 * 1024 * 1024

func lidName(m TableManifest) string { return m.Columns[0].Name }
func idName(m TableManifest) string  { return m.Columns[1].Name }

// Table is an open handle onto one table directory: its manifest, its full
// in-memory LID/ID vectors, and append-mode file handles for every column.
type Table struct {
	DatabasePath string
	Manifest     TableManifest

	LIDs []int64
	IDs  []int64
	ids  map[int64]int // ID -> column index, built once IDs is fixed

	files map[string]*os.File // column name -> open append-mode handle
}

func fieldPath(databasePath, tableName, column string) string {
	return filepath.Join(tableDir(databasePath, tableName), column+".bin")
}

// OpenTable creates (isNew) or resumes a table directory for appending. On
// resume, every field file is truncated back to the end of its row-major
// block (n_LIDs*n_IDs*sizeof(dtype)) so any stale transpose block left by a
// prior seal is discarded before new rows are appended — spec.md 4.B's
// "open for resumption at offset n_LIDs × n_IDs × sizeof(dtype)".
func OpenTable(databasePath string, manifest TableManifest, isNew bool) (*Table, error) {
	dir := tableDir(databasePath, manifest.Name)

	t := &Table{
		DatabasePath: databasePath,
		Manifest:     manifest,
		files:        make(map[string]*os.File),
	}

	if isNew {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, loaditerr.Wrap(loaditerr.KindIO, "create table dir", err)
		}
		for _, col := range manifest.Columns {
			f, err := os.Create(fieldPath(databasePath, manifest.Name, col.Name))
			if err != nil {
				return nil, loaditerr.Wrap(loaditerr.KindIO, "create column file", err)
			}
			t.files[col.Name] = f
		}
		return t, nil
	}

	lids, err := readVector(fieldPath(databasePath, manifest.Name, lidName(manifest)), schema.DtypeInt64)
	if err != nil {
		return nil, err
	}
	t.LIDs = int64Slice(lids)

	ids, err := readVector(fieldPath(databasePath, manifest.Name, idName(manifest)), schema.DtypeInt64)
	if err != nil {
		return nil, err
	}
	t.IDs = int64Slice(ids)
	t.buildIndex()

	rowMajorEnd := int64(len(t.LIDs)) * int64(len(t.IDs))
	for _, col := range manifest.Columns[2:] {
		path := fieldPath(databasePath, manifest.Name, col.Name)
		if err := os.Truncate(path, rowMajorEnd*int64(col.Dtype.Size())); err != nil && !os.IsNotExist(err) {
			return nil, loaditerr.Wrap(loaditerr.KindIO, "truncate stale transpose", err)
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return nil, loaditerr.Wrap(loaditerr.KindIO, "open column file", err)
		}
		t.files[col.Name] = f
	}

	lidFile, err := os.OpenFile(fieldPath(databasePath, manifest.Name, lidName(manifest)), os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "open LID file", err)
	}
	t.files[lidName(manifest)] = lidFile

	return t, nil
}

func (t *Table) buildIndex() {
	t.ids = make(map[int64]int, len(t.IDs))
	for i, id := range t.IDs {
		t.ids[id] = i
	}
}

// AppendRow appends one punch.Table (one LID, one table type) to the store
// table. It validates LID uniqueness (skip + warn), fixes the ID vector on
// the table's first row, and reindexes with NaN fill when a later row's IDs
// differ from the fixed set (spec.md 3, "Manifest invariants").
func (t *Table) AppendRow(row *punch.Table) error {
	for _, lid := range t.LIDs {
		if lid == row.LID {
			clog.WarnOnce(
				fmt.Sprintf("store:dup-lid:%s:%d", t.Manifest.Name, row.LID),
				"duplicate LID skipped", "table", t.Manifest.Name, "lid", row.LID,
			)
			return nil
		}
	}

	if t.IDs == nil {
		t.IDs = append([]int64(nil), row.IDs...)
		t.buildIndex()
		if err := writeVector(t.files[idName(t.Manifest)], schema.DtypeInt64, int64ToFloat(t.IDs)); err != nil {
			return err
		}
	}

	aligned := t.alignToFixedIDs(row)

	for _, col := range t.Manifest.Columns[2:] {
		if err := writeVector(t.files[col.Name], col.Dtype, aligned[col.Name]); err != nil {
			return err
		}
	}
	if err := writeVector(t.files[lidName(t.Manifest)], schema.DtypeInt64, []float64{float64(row.LID)}); err != nil {
		return err
	}

	t.LIDs = append(t.LIDs, row.LID)
	return nil
}

// alignToFixedIDs reorders/reindexes row's per-field values onto t.IDs
// (NaN-filling any ID missing from row), warning when the ID sets differ.
func (t *Table) alignToFixedIDs(row *punch.Table) map[string][]float64 {
	sameOrder := len(row.IDs) == len(t.IDs)
	if sameOrder {
		for i, id := range row.IDs {
			if id != t.IDs[i] {
				sameOrder = false
				break
			}
		}
	}

	if sameOrder {
		return row.Data
	}

	rowIndex := make(map[int64]int, len(row.IDs))
	for i, id := range row.IDs {
		rowIndex[id] = i
	}

	matched := 0
	for id := range rowIndex {
		if _, ok := t.ids[id]; ok {
			matched++
		}
	}
	if matched < len(t.IDs) || len(row.IDs) != len(t.IDs) {
		clog.Warn("inconsistent IDs for table batch", "table", t.Manifest.Name, "lid", row.LID)
	}

	out := make(map[string][]float64, len(row.Data))
	for field, values := range row.Data {
		aligned := make([]float64, len(t.IDs))
		for i := range aligned {
			aligned[i] = math.NaN()
		}
		for id, srcIdx := range rowIndex {
			if dstIdx, ok := t.ids[id]; ok {
				aligned[dstIdx] = values[srcIdx]
			}
		}
		out[field] = aligned
	}
	return out
}

// SealBatch transposes every field's row-major block into a column-major
// block appended to the same file, hashes every column file, and records a
// TableBatch at batchPosition (the table's cumulative row count once this
// batch is appended).
// Grounded on database_creation.py's create_transpose/create_table_header.
func (t *Table) SealBatch(batchName string, batchPosition int64, maxChunkBytes int64) error {
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}
	nLIDs := int64(len(t.LIDs))
	nIDs := int64(len(t.IDs))

	for _, col := range t.Manifest.Columns[2:] {
		if err := t.transposeField(col, nLIDs, nIDs, maxChunkBytes); err != nil {
			return err
		}
	}

	hashes := make(map[string]string, len(t.Manifest.Columns))
	for _, col := range t.Manifest.Columns {
		path := fieldPath(t.DatabasePath, t.Manifest.Name, col.Name)
		if f := t.files[col.Name]; f != nil { // a resumed table holds no ID-column handle
			if err := f.Sync(); err != nil {
				return loaditerr.Wrap(loaditerr.KindIO, "sync column file", err)
			}
		}
		h, err := hashFile(path)
		if err != nil {
			return err
		}
		hashes[col.Name+".bin"] = h
	}

	t.Manifest.Batches = append(t.Manifest.Batches, TableBatch{
		Name:     batchName,
		Position: batchPosition,
		Hashes:   hashes,
	})
	return t.Manifest.Save(t.DatabasePath)
}

func (t *Table) transposeField(col ColumnSpec, nLIDs, nIDs, maxChunkBytes int64) error {
	path := fieldPath(t.DatabasePath, t.Manifest.Name, col.Name)
	width := int64(col.Dtype.Size())

	data, closeMap, err := mmapfile.Map(path)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "map field for transpose", err)
	}
	defer closeMap()

	idsPerChunk := maxChunkBytes / (nLIDs * width)
	if idsPerChunk < 1 {
		idsPerChunk = 1
	}

	f := t.files[col.Name]
	for col0 := int64(0); col0 < nIDs; col0 += idsPerChunk {
		col1 := col0 + idsPerChunk
		if col1 > nIDs {
			col1 = nIDs
		}
		slab := make([]byte, (col1-col0)*nLIDs*width)
		pos := 0
		for c := col0; c < col1; c++ {
			for r := int64(0); r < nLIDs; r++ {
				offset := (r*nIDs + c) * width
				copy(slab[pos:pos+int(width)], data[offset:offset+width])
				pos += int(width)
			}
		}
		if _, err := f.Write(slab); err != nil {
			return loaditerr.Wrap(loaditerr.KindIO, "append transpose slab", err)
		}
	}
	return nil
}

// Truncate shrinks the table to its first `position` rows. Field files and
// LID.bin are truncated to the row-major block of that length; the
// manifest's batch list is trimmed to its first keepBatches entries.
// Callers re-seal to rebuild the transpose afterward.
func (t *Table) Truncate(position int64, keepBatches int) error {
	nIDs := int64(len(t.IDs))

	if err := t.files[lidName(t.Manifest)].Truncate(position * 8); err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "truncate LID.bin", err)
	}
	t.LIDs = t.LIDs[:position]

	for _, col := range t.Manifest.Columns[2:] {
		if err := t.files[col.Name].Truncate(position * nIDs * int64(col.Dtype.Size())); err != nil {
			return loaditerr.Wrap(loaditerr.KindIO, "truncate column file", err)
		}
	}

	if keepBatches < len(t.Manifest.Batches) {
		t.Manifest.Batches = t.Manifest.Batches[:keepBatches]
	}
	return nil
}

// Close flushes and closes every open column file handle.
func (t *Table) Close() error {
	var first error
	for _, f := range t.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	t.files = nil
	return first
}

func readVector(path string, dtype schema.Dtype) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, loaditerr.Wrap(loaditerr.KindIO, "read vector", err)
	}
	return decodeVector(raw, dtype), nil
}

func decodeVector(raw []byte, dtype schema.Dtype) []float64 {
	width := dtype.Size()
	n := len(raw) / width
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := raw[i*width : i*width+width]
		switch dtype {
		case schema.DtypeInt64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(chunk)))
		case schema.DtypeFloat32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case schema.DtypeFloat64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		}
	}
	return out
}

func writeVector(f *os.File, dtype schema.Dtype, values []float64) error {
	width := dtype.Size()
	buf := make([]byte, width*len(values))
	for i, v := range values {
		chunk := buf[i*width : i*width+width]
		switch dtype {
		case schema.DtypeInt64:
			binary.LittleEndian.PutUint64(chunk, uint64(int64(v)))
		case schema.DtypeFloat32:
			binary.LittleEndian.PutUint32(chunk, math.Float32bits(float32(v)))
		case schema.DtypeFloat64:
			binary.LittleEndian.PutUint64(chunk, math.Float64bits(v))
		}
	}
	if _, err := f.Write(buf); err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "write vector", err)
	}
	return nil
}

func int64Slice(values []float64) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func int64ToFloat(values []int64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
