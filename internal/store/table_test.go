package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alvarosanz/loadit/internal/punch"
	"github.com/alvarosanz/loadit/internal/schema"
)

func newQuad4Manifest() TableManifest {
	spec, _ := schema.Lookup("ELEMENT FORCES - QUAD4 (33)")
	cols := make([]ColumnSpec, len(spec.Columns))
	for i, name := range spec.Columns {
		dtype := schema.DtypeFloat32
		if i < 2 {
			dtype = schema.DtypeInt64
		}
		cols[i] = ColumnSpec{Name: name, Dtype: dtype}
	}
	return TableManifest{Name: "ELEMENT FORCES - QUAD4 (33)", Columns: cols}
}

func TestAppendRowAndSeal(t *testing.T) {
	dir := t.TempDir()
	manifest := newQuad4Manifest()

	tbl, err := OpenTable(dir, manifest, true)
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}

	row1 := &punch.Table{
		Name: manifest.Name, LID: 100, IDs: []int64{1, 2},
		Data: map[string][]float64{
			"NX": {10, 20}, "NY": {0, 0}, "NXY": {0, 0},
			"MX": {0, 0}, "MY": {0, 0}, "MXY": {0, 0}, "QX": {0, 0}, "QY": {0, 0},
		},
	}
	row2 := &punch.Table{
		Name: manifest.Name, LID: 200, IDs: []int64{1, 2},
		Data: map[string][]float64{
			"NX": {1, 2}, "NY": {0, 0}, "NXY": {0, 0},
			"MX": {0, 0}, "MY": {0, 0}, "MXY": {0, 0}, "QX": {0, 0}, "QY": {0, 0},
		},
	}

	if err := tbl.AppendRow(row1); err != nil {
		t.Fatalf("append row1: %v", err)
	}
	if err := tbl.AppendRow(row2); err != nil {
		t.Fatalf("append row2: %v", err)
	}
	// Duplicate LID must be skipped, not erroring and not duplicating rows.
	if err := tbl.AppendRow(row1); err != nil {
		t.Fatalf("append dup: %v", err)
	}
	if len(tbl.LIDs) != 2 {
		t.Fatalf("LIDs = %v, want len 2 (dup skipped)", tbl.LIDs)
	}

	if err := tbl.SealBatch("batch-1", 0, 0); err != nil {
		t.Fatalf("SealBatch: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, manifest.Name, "NX.bin"))
	if err != nil {
		t.Fatalf("read NX.bin: %v", err)
	}
	// Row-major block: 2 LIDs x 2 IDs = 4 floats; column-major transpose:
	// another 4 floats. Total 8 * 4 bytes.
	if len(raw) != 8*4 {
		t.Fatalf("NX.bin size = %d, want %d", len(raw), 8*4)
	}
	values := decodeVector(raw, schema.DtypeFloat32)
	rowMajor := values[:4]
	colMajor := values[4:]
	wantRowMajor := []float64{10, 20, 1, 2}
	for i, v := range wantRowMajor {
		if rowMajor[i] != v {
			t.Fatalf("row-major[%d] = %v, want %v", i, rowMajor[i], v)
		}
	}
	// Column-major: column 0 (ID=1) across LIDs [100,200] = [10, 1];
	// column 1 (ID=2) across LIDs = [20, 2].
	wantColMajor := []float64{10, 1, 20, 2}
	for i, v := range wantColMajor {
		if colMajor[i] != v {
			t.Fatalf("col-major[%d] = %v, want %v", i, colMajor[i], v)
		}
	}

	manifestOut, err := LoadTableManifest(dir, manifest.Name)
	if err != nil {
		t.Fatalf("LoadTableManifest: %v", err)
	}
	if len(manifestOut.Batches) != 1 || manifestOut.Batches[0].Name != "batch-1" {
		t.Fatalf("batches = %+v", manifestOut.Batches)
	}
}

func TestAppendRowReindexesOnIDMismatch(t *testing.T) {
	dir := t.TempDir()
	manifest := newQuad4Manifest()

	tbl, err := OpenTable(dir, manifest, true)
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}

	first := &punch.Table{
		Name: manifest.Name, LID: 1, IDs: []int64{1, 2, 3},
		Data: map[string][]float64{
			"NX": {10, 20, 30}, "NY": {0, 0, 0}, "NXY": {0, 0, 0},
			"MX": {0, 0, 0}, "MY": {0, 0, 0}, "MXY": {0, 0, 0}, "QX": {0, 0, 0}, "QY": {0, 0, 0},
		},
	}
	// Second batch is missing ID=2: that cell must come back as NaN.
	second := &punch.Table{
		Name: manifest.Name, LID: 2, IDs: []int64{1, 3},
		Data: map[string][]float64{
			"NX": {100, 300}, "NY": {0, 0}, "NXY": {0, 0},
			"MX": {0, 0}, "MY": {0, 0}, "MXY": {0, 0}, "QX": {0, 0}, "QY": {0, 0},
		},
	}

	if err := tbl.AppendRow(first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := tbl.AppendRow(second); err != nil {
		t.Fatalf("append second: %v", err)
	}
	if err := tbl.SealBatch("b", 0, 0); err != nil {
		t.Fatalf("SealBatch: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, manifest.Name, "NX.bin"))
	values := decodeVector(raw, schema.DtypeFloat32)
	rowMajor := values[:6] // 2 LIDs x 3 IDs
	if rowMajor[0] != 10 || rowMajor[2] != 30 {
		t.Fatalf("row 0 = %v", rowMajor[:3])
	}
	if rowMajor[3] != 100 || !math.IsNaN(rowMajor[4]) || rowMajor[5] != 300 {
		t.Fatalf("row 1 = %v, want [100 NaN 300]", rowMajor[3:6])
	}
}
