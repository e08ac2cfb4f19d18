// Package store implements the on-disk Database/Table/Batch model of
// spec.md 3-4.B: a database directory holding a top-level manifest, one
// subdirectory per table, and the dual row-major/column-major field files
// described there. It is grounded on the original source's
// database_creation.py (open_table/append_to_table/create_transpose/
// create_table_header/create_database_header) and database.py's
// DatabaseHeader/new_batch/restore.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/schema"
)

const (
	manifestVersion  = "v1.0.0"
	hashFunctionName = "sha256"

	databaseManifestFile = "##header.json"
	tableManifestFile    = "#header.json"
	attachmentsDir       = ".attachments"
)

// ColumnSpec is one column of a table: its name and on-disk dtype. Columns[0]
// is always LID, Columns[1] is always ID (spec.md 3).
type ColumnSpec struct {
	Name  string      `json:"name"`
	Dtype schema.Dtype `json:"dtype"`
}

// TableBatch is one entry in a table's batch history: the table's
// cumulative row count once this batch was appended (Position) and the
// content hash of every one of the table's files as of this batch's seal.
type TableBatch struct {
	Name     string            `json:"name"`
	Position int64             `json:"position"`
	Hashes   map[string]string `json:"hashes"`
}

// TableManifest is a table's "#header.json": schema plus batch history. LID
// and ID vectors themselves live in LID.bin/ID.bin, not in the manifest.
type TableManifest struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
	Batches []TableBatch `json:"batches"`
}

func tableDir(databasePath, tableName string) string {
	return filepath.Join(databasePath, tableName)
}

// LoadTableManifest reads a table's "#header.json".
func LoadTableManifest(databasePath, tableName string) (TableManifest, error) {
	var m TableManifest
	raw, err := os.ReadFile(filepath.Join(tableDir(databasePath, tableName), tableManifestFile))
	if err != nil {
		return m, loaditerr.Wrap(loaditerr.KindIO, "read table manifest", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, loaditerr.Wrap(loaditerr.KindInvalidSchema, "decode table manifest", err)
	}
	return m, nil
}

// Save writes the table manifest to databasePath/<name>/#header.json.
func (m TableManifest) Save(databasePath string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "encode table manifest", err)
	}
	path := filepath.Join(tableDir(databasePath, m.Name), tableManifestFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "write table manifest", err)
	}
	return nil
}

// DatabaseBatch is one entry of the top manifest's batch list (spec.md 3:
// "[name, content_hash, timestamp, source_files, comment]").
type DatabaseBatch struct {
	Name        string   `json:"name"`
	ContentHash string   `json:"content_hash"`
	Timestamp   string   `json:"timestamp"`
	SourceFiles []string `json:"source_files"`
	Comment     string   `json:"comment"`
}

// Attachment records an opaque blob's content hash and size.
type Attachment struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// DatabaseManifest is the database's "##header.json".
type DatabaseManifest struct {
	Version      string                `json:"version"`
	HashFunction string                `json:"hash_function"`
	TableHashes  map[string]string     `json:"table_hashes"`
	Batches      []DatabaseBatch       `json:"batches"`
	Attachments  map[string]Attachment `json:"attachments"`
}

// NewDatabaseManifest returns an empty manifest for a freshly created database.
func NewDatabaseManifest() DatabaseManifest {
	return DatabaseManifest{
		Version:      manifestVersion,
		HashFunction: hashFunctionName,
		TableHashes:  make(map[string]string),
		Attachments:  make(map[string]Attachment),
	}
}

// LoadDatabaseManifest reads databasePath/##header.json.
func LoadDatabaseManifest(databasePath string) (DatabaseManifest, error) {
	var m DatabaseManifest
	raw, err := os.ReadFile(filepath.Join(databasePath, databaseManifestFile))
	if err != nil {
		return m, loaditerr.Wrap(loaditerr.KindIO, "read database manifest", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, loaditerr.Wrap(loaditerr.KindInvalidSchema, "decode database manifest", err)
	}
	return m, nil
}

// Save writes the manifest to databasePath/##header.json.
func (m DatabaseManifest) Save(databasePath string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "encode database manifest", err)
	}
	if err := os.WriteFile(filepath.Join(databasePath, databaseManifestFile), raw, 0o644); err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "write database manifest", err)
	}
	return nil
}
