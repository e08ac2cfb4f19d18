package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

const pchS1 = `$TITLE   = demo
$SUBCASE ID =       100
ELEMENT FORCES - QUAD4 (33)
         1    10.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
         2    20.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
`

const pchS2 = `$TITLE   = demo
$SUBCASE ID =       200
ELEMENT FORCES - QUAD4 (33)
         1     1.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
         2     2.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
`

// pchS3BadSecondSubcase appends two valid rows to the pre-existing QUAD4
// table in its first subcase, then fails partway through its second
// subcase (a non-numeric element ID), so ingestFiles errors out only after
// the pre-existing table has already been touched this batch.
const pchS3BadSecondSubcase = `$TITLE   = demo
$SUBCASE ID =       300
ELEMENT FORCES - QUAD4 (33)
         1    30.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
         2    40.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
$SUBCASE ID =       400
ELEMENT FORCES - QUAD4 (33)
       bad    50.0     0.0      0.0      0.0      0.0      0.0      0.0      0.0    0.0
`

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestNewBatchCreatesAndAppends(t *testing.T) {
	dbDir := t.TempDir()
	srcDir := t.TempDir()

	db, err := Create(dbDir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	f1 := writeFixture(t, srcDir, "run1.pch", pchS1)
	if err := db.NewBatch([]string{f1}, "batch-1", "first", 0); err != nil {
		t.Fatalf("NewBatch 1: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dbDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f2 := writeFixture(t, srcDir, "run2.pch", pchS2)
	if err := db2.NewBatch([]string{f2}, "batch-2", "second", 0); err != nil {
		t.Fatalf("NewBatch 2: %v", err)
	}
	if err := db2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	manifest, err := Open(dbDir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(manifest.Manifest.Batches) != 2 {
		t.Fatalf("batches = %+v, want 2", manifest.Manifest.Batches)
	}
	if manifest.Manifest.Batches[0].Name != "batch-1" || manifest.Manifest.Batches[1].Name != "batch-2" {
		t.Fatalf("batch names = %+v", manifest.Manifest.Batches)
	}
	if manifest.Manifest.Batches[1].ContentHash == "" {
		t.Fatalf("content hash not set")
	}
}

func TestNewBatchRollbackPreservesPriorBatchOnFreshlyOpenedDatabase(t *testing.T) {
	dbDir := t.TempDir()
	srcDir := t.TempDir()

	db, err := Create(dbDir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f1 := writeFixture(t, srcDir, "run1.pch", pchS1)
	if err := db.NewBatch([]string{f1}, "batch-1", "first", 0); err != nil {
		t.Fatalf("NewBatch 1: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A freshly opened handle (ingest.Open in the CLI, or a cluster
	// Worker's first new_batch against a database after process start)
	// starts with an empty Tables cache even though batch-1's table
	// already exists on disk.
	db2, err := Open(dbDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db2.Close()

	f2 := writeFixture(t, srcDir, "run2.pch", pchS3BadSecondSubcase)
	if err := db2.NewBatch([]string{f2}, "batch-2", "second", 0); err == nil {
		t.Fatal("expected NewBatch to fail on the malformed second subcase")
	}

	if len(db2.Manifest.Batches) != 1 || db2.Manifest.Batches[0].Name != "batch-1" {
		t.Fatalf("expected only batch-1 to remain recorded after rollback, got %+v", db2.Manifest.Batches)
	}

	tbl, ok := db2.Tables["ELEMENT FORCES - QUAD4 (33)"]
	if !ok {
		t.Fatal("expected the pre-existing table to survive rollback, not be deleted outright")
	}
	if len(tbl.LIDs) != 1 {
		t.Fatalf("expected rollback to truncate back to batch-1's single LID row, got %d", len(tbl.LIDs))
	}

	// Reopen once more to confirm the truncation was durable, not just an
	// in-memory artifact of the handle that performed the rollback.
	db3, err := Open(dbDir)
	if err != nil {
		t.Fatalf("reopen after rollback: %v", err)
	}
	defer db3.Close()
	if len(db3.Manifest.Batches) != 1 {
		t.Fatalf("expected exactly 1 surviving batch on disk, got %+v", db3.Manifest.Batches)
	}
}

func TestNewBatchRejectsDuplicateName(t *testing.T) {
	dbDir := t.TempDir()
	srcDir := t.TempDir()

	db, err := Create(dbDir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f1 := writeFixture(t, srcDir, "run1.pch", pchS1)
	if err := db.NewBatch([]string{f1}, "batch-1", "", 0); err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	if err := db.NewBatch([]string{f1}, "batch-1", "", 0); err == nil {
		t.Fatalf("expected error for duplicate batch name")
	}
}
