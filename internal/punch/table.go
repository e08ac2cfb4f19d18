package punch

import "github.com/alvarosanz/loadit/internal/schema"

// Table is one decoded punch record: every yielded Table belongs to exactly
// one subcase (LID) and one table type, per spec.md 4.A. Data holds one
// column array per field, all of length len(IDs).
type Table struct {
	Name string
	LID  int64
	IDs  []int64
	// Data holds one slice per field name (excluding LID/ID); values are
	// float64 regardless of the on-disk dtype, narrowed on write.
	Data map[string][]float64
}

// Spec returns the schema.TableSpec this table was decoded against.
func (t *Table) Spec() (schema.TableSpec, bool) {
	return schema.Lookup(t.Name)
}
