// Package schema holds the static catalog mapping a punch table name to its
// column list and fixed-width line layout, mirroring the Python source's
// tables_specs module. Every table uses LID (rows) and an element/node ID
// (columns) as its first two columns; the rest are numeric fields.
package schema

// Dtype is a fixed-width little-endian primitive type tag, matching the
// on-disk dtype strings from section 6 of the spec ("<f4", "<i8", ...).
type Dtype string

const (
	DtypeInt64   Dtype = "<i8"
	DtypeFloat32 Dtype = "<f4"
	DtypeFloat64 Dtype = "<f8"
)

// Size returns the dtype's width in bytes.
func (d Dtype) Size() int {
	switch d {
	case DtypeInt64, DtypeFloat64:
		return 8
	case DtypeFloat32:
		return 4
	default:
		return 0
	}
}

// LineField is one column slot within one physical punch line. An empty
// Name marks a column that is present in the line but not kept (padding, or
// a column belonging to a different logical row continuation).
type LineField struct {
	Name  string
	Dtype Dtype
}

// TableSpec describes one punch table type: its logical column order and the
// per-line layout used to decode a multi-line punch record into those
// columns. LID and ID (the index columns) are always columns[0] and [1].
type TableSpec struct {
	Columns []string
	Lines   [][]LineField
	Dtypes  map[string]Dtype
}

// dtypesOf derives the per-field dtype map from a table's line layout.
func dtypesOf(lines [][]LineField) map[string]Dtype {
	out := make(map[string]Dtype)
	for _, line := range lines {
		for _, f := range line {
			if f.Name != "" {
				out[f.Name] = f.Dtype
			}
		}
	}
	return out
}

func spec(columns []string, lines [][]LineField) TableSpec {
	return TableSpec{Columns: columns, Lines: lines, Dtypes: dtypesOf(lines)}
}

// i8 and f4 build a LineField tersely; blank marks a skipped column.
func i8(name string) LineField { return LineField{Name: name, Dtype: DtypeInt64} }
func f4(name string) LineField { return LineField{Name: name, Dtype: DtypeFloat32} }

var blank = LineField{}

// Catalog is the static registry of known punch table types. Keys match the
// solver's literal table header text (e.g. "ELEMENT FORCES - QUAD4 (33)").
var Catalog = map[string]TableSpec{
	"ELEMENT FORCES - ROD (1)": spec(
		[]string{"LID", "EID", "FX", "T"},
		[][]LineField{
			{i8("LID"), i8("EID"), f4("FX"), f4("T")},
		},
	),
	"ELEMENT FORCES - BEAM (2)": spec(
		[]string{"LID", "EID", "M1A", "M2A", "M1B", "M2B", "V1", "V2", "FX", "T", "WT"},
		[][]LineField{
			{i8("LID"), i8("EID"), blank, blank, f4("M1A"), f4("M2A"), f4("V1"), f4("V2"), f4("FX"), f4("T"), f4("WT")},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, blank, blank, blank, blank, blank, blank, blank},
			{blank, blank, f4("M1B"), f4("M2B"), blank, blank, blank, blank, blank},
		},
	),
	"ELEMENT FORCES - ELAS1 (11)": spec(
		[]string{"LID", "EID", "F"},
		[][]LineField{{i8("LID"), i8("EID"), f4("F")}},
	),
	"ELEMENT FORCES - ELAS2 (12)": spec(
		[]string{"LID", "EID", "F"},
		[][]LineField{{i8("LID"), i8("EID"), f4("F")}},
	),
	"ELEMENT FORCES - ELAS3 (13)": spec(
		[]string{"LID", "EID", "F"},
		[][]LineField{{i8("LID"), i8("EID"), f4("F")}},
	),
	"ELEMENT FORCES - ELAS4 (14)": spec(
		[]string{"LID", "EID", "F"},
		[][]LineField{{i8("LID"), i8("EID"), f4("F")}},
	),
	"ELEMENT FORCES - QUAD4 (33)": spec(
		[]string{"LID", "EID", "NX", "NY", "NXY", "MX", "MY", "MXY", "QX", "QY"},
		[][]LineField{
			{i8("LID"), i8("EID"), f4("NX"), f4("NY"), f4("NXY"), f4("MX"), f4("MY"), f4("MXY"), f4("QX"), f4("QY"), blank},
		},
	),
	"ELEMENT FORCES - BAR (34)": spec(
		[]string{"LID", "EID", "M1A", "M2A", "M1B", "M2B", "V1", "V2", "FX", "T"},
		[][]LineField{
			{i8("LID"), i8("EID"), f4("M1A"), f4("M2A"), f4("M1B"), f4("M2B"), f4("V1"), f4("V2"), f4("FX"), f4("T"), blank},
		},
	),
	"ELEMENT FORCES - TRIA3 (74)": spec(
		[]string{"LID", "EID", "NX", "NY", "NXY", "MX", "MY", "MXY", "QX", "QY"},
		[][]LineField{
			{i8("LID"), i8("EID"), f4("NX"), f4("NY"), f4("NXY"), f4("MX"), f4("MY"), f4("MXY"), f4("QX"), f4("QY"), blank},
		},
	),
	"ELEMENT FORCES - BARS (100)": spec(
		[]string{"LID", "EID", "M1A", "M2A", "M1B", "M2B", "V1", "V2", "FX", "T"},
		[][]LineField{
			{i8("LID"), i8("EID"), blank, f4("M1A"), f4("M2A"), f4("V1"), f4("V2"), f4("FX"), f4("T"), blank, blank},
			{blank, f4("M1B"), f4("M2B"), blank, blank, blank, blank, blank, blank},
		},
	),
	"ELEMENT FORCES - BUSH (102)": spec(
		[]string{"LID", "EID", "FX", "FY", "FZ", "MX", "MY", "MZ"},
		[][]LineField{
			{i8("LID"), i8("EID"), f4("FX"), f4("FY"), f4("FZ"), f4("MX"), f4("MY"), f4("MZ")},
		},
	),
}

// Lookup returns the TableSpec registered for name, and whether it exists.
func Lookup(name string) (TableSpec, bool) {
	t, ok := Catalog[name]
	return t, ok
}
