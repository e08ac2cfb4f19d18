package punch

import (
	"io"
	"strings"
	"testing"
)

// sampleS1 matches spec.md scenario S1: LID=100, IDs=[1,2], NX=[10.0, 20.0]
// on "ELEMENT FORCES - QUAD4 (33)".
const sampleS1 = `$TITLE   = demo
$SUBCASE ID =       100
ELEMENT FORCES - QUAD4 (33)
         1    10.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
         2    20.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0

$SUBCASE ID =       200
ELEMENT FORCES - QUAD4 (33)
         1     1.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
         2     2.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
`

func TestReaderS1S2(t *testing.T) {
	r := NewReader(strings.NewReader(sampleS1))

	t1, err := r.Next()
	if err != nil {
		t.Fatalf("first table: %v", err)
	}
	if t1.LID != 100 {
		t.Fatalf("LID = %d, want 100", t1.LID)
	}
	if len(t1.IDs) != 2 || t1.IDs[0] != 1 || t1.IDs[1] != 2 {
		t.Fatalf("IDs = %v, want [1 2]", t1.IDs)
	}
	nx := t1.Data["NX"]
	if len(nx) != 2 || nx[0] != 10.0 || nx[1] != 20.0 {
		t.Fatalf("NX = %v, want [10 20]", nx)
	}

	t2, err := r.Next()
	if err != nil {
		t.Fatalf("second table: %v", err)
	}
	if t2.LID != 200 {
		t.Fatalf("LID = %d, want 200", t2.LID)
	}
	nx2 := t2.Data["NX"]
	if len(nx2) != 2 || nx2[0] != 1.0 || nx2[1] != 2.0 {
		t.Fatalf("NX = %v, want [1 2]", nx2)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderSkipsUnknownTable(t *testing.T) {
	const src = `$SUBCASE ID = 1
UNKNOWN TABLE TYPE (999)
  1 2 3
$SUBCASE ID = 2
ELEMENT FORCES - ELAS1 (11)
         1    5.0
`
	r := NewReader(strings.NewReader(src))
	tbl, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tbl.Name != "ELEMENT FORCES - ELAS1 (11)" || tbl.LID != 2 {
		t.Fatalf("got %+v", tbl)
	}
}
