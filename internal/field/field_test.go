package field

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alvarosanz/loadit/internal/schema"
)

// writeFloat32File writes rowMajor followed by colMajor, both float32.
func writeFloat32File(t *testing.T, path string, rowMajor, colMajor []float64) {
	t.Helper()
	buf := make([]byte, 4*(len(rowMajor)+len(colMajor)))
	for i, v := range append(append([]float64{}, rowMajor...), colMajor...) {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(float32(v)))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestFieldReadByLIDAndByID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "NX.bin")

	// 3 LIDs x 2 IDs.
	rowMajor := []float64{10, 20, 1, 2, 100, 200}
	colMajor := []float64{10, 1, 100, 20, 2, 200}
	writeFloat32File(t, path, rowMajor, colMajor)

	f := Open(path, schema.DtypeFloat32, 3, 2)
	defer f.Close()

	// Fewer LIDs than IDs: should use by_LID axis. Request LID index 1 only.
	out, err := f.Read([]int{1}, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != 1 || out[0][0] != 1 || out[0][1] != 2 {
		t.Fatalf("by_LID read = %v, want [[1 2]]", out)
	}

	// Fewer IDs than LIDs: should use by_ID axis. Request ID index 0 only.
	out2, err := f.Read(nil, []int{0})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out2) != 3 || out2[0][0] != 10 || out2[1][0] != 1 || out2[2][0] != 100 {
		t.Fatalf("by_ID read = %v, want [[10] [1] [100]]", out2)
	}
}
