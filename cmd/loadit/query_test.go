package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alvarosanz/loadit/internal/queryexec"
)

func TestResultRowCellsLIDIndex(t *testing.T) {
	res := &queryexec.Result{
		Fields:     []string{"UX", "UY"},
		IndexNames: []string{"LID", "ID"},
	}
	row := queryexec.Row{LID: 3, ID: 42, Values: []float64{1.5, -2.25}}

	got := resultRowCells(res, row)
	want := []string{"3", "42", "1.5", "-2.25"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("resultRowCells = %v, want %v", got, want)
	}
}

func TestResultRowCellsGroupWithCritical(t *testing.T) {
	res := &queryexec.Result{
		Fields:      []string{"SVM"},
		IndexNames:  []string{"group"},
		HasCritical: true,
	}
	row := queryexec.Row{Group: "top-face", Values: []float64{99.9}, Critical: 7}

	got := resultRowCells(res, row)
	want := []string{"top-face", "99.9", "7"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("resultRowCells = %v, want %v", got, want)
	}
}

func TestWriteResultCSV(t *testing.T) {
	res := &queryexec.Result{
		Fields:     []string{"UX"},
		IndexNames: []string{"ID"},
		Rows: []queryexec.Row{
			{ID: 1, Values: []float64{0.1}},
			{ID: 2, Values: []float64{0.2}},
		},
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	if err := writeResultCSV(res, path); err != nil {
		t.Fatalf("writeResultCSV: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected a header plus 2 rows, got %d lines: %q", len(lines), data)
	}
	if lines[0] != "ID,UX" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[1] != "1,0.1" || lines[2] != "2,0.2" {
		t.Fatalf("unexpected rows: %v", lines[1:])
	}
}
