package queryfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseInline(t *testing.T) {
	doc := []byte(`{
		"table": "ELEMENT FORCES - QUAD4 (33)",
		"fields": ["NX-MAX"],
		"LIDs": [100, 200],
		"IDs": [1, 2, 3],
		"groups": {"g1": [1, 2]},
		"geometry": {"thickness": {"1": 0.1, "2": 0.2, "3": 0.3}},
		"sort_by_LID": true,
		"double_precision": false,
		"output_file": "out.csv"
	}`)

	qf, err := Parse(doc, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if qf.Table != "ELEMENT FORCES - QUAD4 (33)" || len(qf.Fields) != 1 || qf.Fields[0] != "NX-MAX" {
		t.Fatalf("unexpected table/fields: %+v", qf)
	}
	if len(qf.LIDs) != 2 || qf.LIDs[0] != 100 {
		t.Fatalf("unexpected LIDs: %v", qf.LIDs)
	}
	if len(qf.IDs) != 3 {
		t.Fatalf("unexpected IDs: %v", qf.IDs)
	}
	if len(qf.Groups["g1"]) != 2 {
		t.Fatalf("unexpected groups: %v", qf.Groups)
	}
	if len(qf.Geometry["thickness"]) != 3 {
		t.Fatalf("unexpected geometry: %v", qf.Geometry)
	}
	if !qf.SortByLID || qf.OutputFile != "out.csv" {
		t.Fatalf("unexpected flags: %+v", qf)
	}
}

func TestParseCSVReferences(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "LIDs.csv", "100,1,10,2,20\n200,0.5,100\n")
	writeFile(t, dir, "IDs.csv", "1\n2\n3\n")
	writeFile(t, dir, "groups.csv", "g1,1,2\ng2,3\n")
	writeFile(t, dir, "geometry.csv", "id,thickness,density\n1,0.1,7800\n2,0.2,7800\n")

	doc := []byte(`{
		"table": "ELEMENT FORCES - QUAD4 (33)",
		"fields": ["NX"],
		"LIDs": "LIDs.csv",
		"IDs": "IDs.csv",
		"groups": "groups.csv",
		"geometry": "geometry.csv"
	}`)

	qf, err := Parse(doc, dir)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(qf.LIDCombos) != 2 {
		t.Fatalf("expected 2 LID combinations, got %d: %+v", len(qf.LIDCombos), qf.LIDCombos)
	}
	if qf.LIDCombos[0].LID != 100 || len(qf.LIDCombos[0].Terms) != 2 {
		t.Fatalf("unexpected first combo: %+v", qf.LIDCombos[0])
	}
	if qf.LIDCombos[0].Terms[0].Coeff != 1 || qf.LIDCombos[0].Terms[0].LID != 10 {
		t.Fatalf("unexpected first combo term: %+v", qf.LIDCombos[0].Terms[0])
	}
	if len(qf.IDs) != 3 {
		t.Fatalf("unexpected IDs: %v", qf.IDs)
	}
	if len(qf.Groups["g1"]) != 2 || len(qf.Groups["g2"]) != 1 {
		t.Fatalf("unexpected groups: %v", qf.Groups)
	}
	if len(qf.Geometry["thickness"]) != 2 || qf.Geometry["thickness"][2] != 0.2 {
		t.Fatalf("unexpected geometry: %v", qf.Geometry)
	}
}

func TestLoadResolvesCSVPathsRelativeToQueryFileDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IDs.csv", "1\n2\n")
	writeFile(t, dir, "query.json", `{"table":"ELEMENT FORCES - QUAD4 (33)","fields":["NX"],"IDs":"IDs.csv"}`)

	qf, err := Load(filepath.Join(dir, "query.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(qf.IDs) != 2 {
		t.Fatalf("unexpected IDs: %v", qf.IDs)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
