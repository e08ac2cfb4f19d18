package store

import (
	"os"

	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/schema"
)

// OpenTableReadOnly loads a table's LID/ID vectors and manifest for querying
// without touching any field file: unlike OpenTable(isNew=false), it never
// truncates a field's transpose block and never opens a file for writing.
// Field data itself is read lazily through internal/field's mmap views,
// keyed by FieldPath/ColumnDtype/NLIDs/NIDs below (spec.md 4.C: "opening is
// read-only-mapped by default").
func OpenTableReadOnly(databasePath string, manifest TableManifest) (*Table, error) {
	t := &Table{DatabasePath: databasePath, Manifest: manifest}

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

	return t, nil
}

// NLIDs is the number of rows (load cases) currently stored.
func (t *Table) NLIDs() int { return len(t.LIDs) }

// NIDs is the number of columns (elements/nodes) currently stored.
func (t *Table) NIDs() int { return len(t.IDs) }

// IDIndex returns id's 0-based column position, if present.
func (t *Table) IDIndex(id int64) (int, bool) {
	idx, ok := t.ids[id]
	return idx, ok
}

// LIDIndex returns lid's 0-based row position, if present. Stored LIDs are
// typically few enough that a linear scan is cheaper than maintaining a
// second index alongside t.ids.
func (t *Table) LIDIndex(lid int64) (int, bool) {
	for i, v := range t.LIDs {
		if v == lid {
			return i, true
		}
	}
	return 0, false
}

// FieldNames returns the table's field columns, in schema order, excluding
// the LID/ID index columns.
func (t *Table) FieldNames() []string {
	out := make([]string, 0, len(t.Manifest.Columns)-2)
	for _, col := range t.Manifest.Columns[2:] {
		out = append(out, col.Name)
	}
	return out
}

// HasField reports whether name is one of this table's stored fields.
func (t *Table) HasField(name string) bool {
	for _, col := range t.Manifest.Columns[2:] {
		if col.Name == name {
			return true
		}
	}
	return false
}

// ColumnDtype returns the on-disk dtype of a stored field.
func (t *Table) ColumnDtype(name string) (schema.Dtype, bool) {
	for _, col := range t.Manifest.Columns {
		if col.Name == name {
			return col.Dtype, true
		}
	}
	return "", false
}

// FieldFilePath returns the absolute path of a column's .bin file.
func (t *Table) FieldFilePath(name string) string {
	return fieldPath(t.DatabasePath, t.Manifest.Name, name)
}

// LatestBatchHashes returns the per-file content hashes recorded at the
// table's most recent seal, or nil if the table has never been sealed.
func (t *Table) LatestBatchHashes() map[string]string {
	if len(t.Manifest.Batches) == 0 {
		return nil
	}
	return t.Manifest.Batches[len(t.Manifest.Batches)-1].Hashes
}

// Check recomputes every column file's content hash and compares it against
// the hash recorded at the latest seal, returning the relative (to the
// table directory) paths of any file whose content no longer matches
// (spec.md §7: "check is non-throwing: it returns the list of corrupted
// relative paths").
func (t *Table) Check() ([]string, error) {
	expected := t.LatestBatchHashes()
	if expected == nil {
		return nil, nil
	}
	var corrupted []string
	for _, col := range t.Manifest.Columns {
		filename := col.Name + ".bin"
		want, ok := expected[filename]
		if !ok {
			continue
		}
		path := fieldPath(t.DatabasePath, t.Manifest.Name, col.Name)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				corrupted = append(corrupted, filename)
				continue
			}
			return nil, loaditerr.Wrap(loaditerr.KindIO, "stat column file", err)
		}
		got, err := hashFile(path)
		if err != nil {
			return nil, err
		}
		if got != want {
			corrupted = append(corrupted, filename)
		}
	}
	return corrupted, nil
}
