// Package ingest implements the top-level Database lifecycle of spec.md
// 4.D: creating/opening a database directory, appending a new batch from
// punch files with rollback on error, and restoring to a previous batch.
// Grounded on original_source/loadit/database.py's Database/new_batch/
// restore and database_creation.py's create_tables/assembly_database.
package ingest

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/alvarosanz/loadit/internal/clog"
	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/punch"
	"github.com/alvarosanz/loadit/internal/schema"
	"github.com/alvarosanz/loadit/internal/store"
)

const attachmentsDir = ".attachments"

// Database is a handle onto one on-disk database directory.
type Database struct {
	Path     string
	Manifest store.DatabaseManifest
	Tables   map[string]*store.Table // open append-mode handles, keyed by table name

	readTables map[string]*store.Table // open read-only handles, for queries
}

// Create initializes an empty database directory and writes its manifest.
func Create(path string) (*Database, error) {
	if err := os.MkdirAll(filepath.Join(path, attachmentsDir), 0o755); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "create database dir", err)
	}
	m := store.NewDatabaseManifest()
	if err := m.Save(path); err != nil {
		return nil, err
	}
	return &Database{Path: path, Manifest: m, Tables: make(map[string]*store.Table)}, nil
}

// Open loads an existing database's manifest without opening any table for
// writing; NewBatch opens every existing table for append when it starts.
func Open(path string) (*Database, error) {
	m, err := store.LoadDatabaseManifest(path)
	if err != nil {
		return nil, err
	}
	return &Database{Path: path, Manifest: m, Tables: make(map[string]*store.Table)}, nil
}

// Close closes every open table handle.
func (d *Database) Close() error {
	var first error
	for _, t := range d.Tables {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	d.Tables = nil
	for _, t := range d.readTables {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	d.readTables = nil
	return first
}

// OpenForQuery returns a read-only handle onto tableName, cached for the
// lifetime of d. Distinct from openForAppend: it never opens field files
// for writing and never truncates a stale transpose block, so it is safe to
// share with concurrent readers while a writer elsewhere holds the
// exclusive append handle under a different process (spec.md 4.C, 5).
func (d *Database) OpenForQuery(tableName string) (*store.Table, error) {
	if t, ok := d.readTables[tableName]; ok {
		return t, nil
	}
	if _, known := d.Manifest.TableHashes[tableName]; !known {
		return nil, loaditerr.Newf(loaditerr.KindNotFound, "table %q not found", tableName)
	}
	manifest, err := store.LoadTableManifest(d.Path, tableName)
	if err != nil {
		return nil, err
	}
	t, err := store.OpenTableReadOnly(d.Path, manifest)
	if err != nil {
		return nil, err
	}
	if d.readTables == nil {
		d.readTables = make(map[string]*store.Table)
	}
	d.readTables[tableName] = t
	return t, nil
}

func (d *Database) openForAppend(tableName string) (*store.Table, error) {
	if t, ok := d.Tables[tableName]; ok {
		return t, nil
	}

	if _, known := d.Manifest.TableHashes[tableName]; known {
		manifest, err := store.LoadTableManifest(d.Path, tableName)
		if err != nil {
			return nil, err
		}
		t, err := store.OpenTable(d.Path, manifest, false)
		if err != nil {
			return nil, err
		}
		d.Tables[tableName] = t
		return t, nil
	}

	spec, ok := schema.Lookup(tableName)
	if !ok {
		return nil, loaditerr.Newf(loaditerr.KindInvalidSchema, "unknown table %q", tableName)
	}
	cols := make([]store.ColumnSpec, len(spec.Columns))
	for i, name := range spec.Columns {
		dtype := spec.Dtypes[name]
		if i < 2 {
			dtype = schema.DtypeInt64
		}
		cols[i] = store.ColumnSpec{Name: name, Dtype: dtype}
	}
	t, err := store.OpenTable(d.Path, store.TableManifest{Name: tableName, Columns: cols}, true)
	if err != nil {
		return nil, err
	}
	d.Tables[tableName] = t
	return t, nil
}

// NewBatch implements spec.md 4.D's new_batch flow: ingest every table in
// files into this database as one atomically-recorded batch, rolling the
// whole database back to its previous state on any error.
func (d *Database) NewBatch(files []string, batchName, comment string, maxChunkBytes int64) error {
	for _, b := range d.Manifest.Batches {
		if b.Name == batchName {
			return loaditerr.Newf(loaditerr.KindAlreadyExists, "batch %q already exists", batchName)
		}
	}

	// Every table already on disk must be open (and therefore captured
	// below) before ingestFiles runs, even ones this Database hasn't
	// touched yet this process: otherwise rollback can't tell "existed
	// before this batch" from "introduced by this batch" and would delete
	// a pre-existing table outright instead of truncating it.
	if err := d.openAllExistingTables(); err != nil {
		return err
	}

	startPositions := make(map[string]int64, len(d.Tables))
	for name, t := range d.Tables {
		startPositions[name] = int64(len(t.LIDs))
	}

	if err := d.ingestFiles(files); err != nil {
		if restoreErr := d.rollback(startPositions); restoreErr != nil {
			clog.Error("rollback after failed ingest also failed", "error", restoreErr)
		}
		return err
	}

	tableHashes := make(map[string]string, len(d.Tables))
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := d.Tables[name]
		position := int64(len(t.LIDs)) // cumulative row count after this batch
		if err := t.SealBatch(batchName, position, maxChunkBytes); err != nil {
			return err
		}
		h, err := store.HashFile(filepath.Join(d.Path, name, "#header.json"))
		if err != nil {
			return err
		}
		tableHashes[name] = h
	}

	d.Manifest.TableHashes = tableHashes
	d.Manifest.Batches = append(d.Manifest.Batches, store.DatabaseBatch{
		Name:        batchName,
		ContentHash: store.BatchContentHash(tableHashes),
		SourceFiles: baseNames(files),
		Comment:     comment,
	})
	return d.Manifest.Save(d.Path)
}

// openAllExistingTables opens every table already recorded in the database
// manifest into d.Tables, if not open already, so callers that snapshot
// d.Tables for a rollback point see every pre-existing table rather than
// only the ones previously opened in this process.
func (d *Database) openAllExistingTables() error {
	for name := range d.Manifest.TableHashes {
		if _, err := d.openForAppend(name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) ingestFiles(files []string) error {
	for _, path := range files {
		if err := d.ingestFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) ingestFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "open punch file", err)
	}
	defer f.Close()

	r := punch.NewReader(f)
	for {
		table, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return loaditerr.Wrap(loaditerr.KindIO, "read punch table", err)
		}
		handle, err := d.openForAppend(table.Name)
		if err != nil {
			return err
		}
		if err := handle.AppendRow(table); err != nil {
			return err
		}
	}
}

// rollback restores every open table to its length as of the start of the
// failed batch (startPositions), undoing whatever partial rows ingestFiles
// managed to append before the error. No batch has been sealed yet for this
// attempt, so the manifest's batch list itself needs no trimming.
func (d *Database) rollback(startPositions map[string]int64) error {
	for name, t := range d.Tables {
		position, known := startPositions[name]
		if !known {
			// The table did not exist before this failed batch: drop it
			// entirely, mirroring restore()'s handling of a table introduced
			// after the restore point.
			if err := t.Close(); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(d.Path, name)); err != nil {
				return loaditerr.Wrap(loaditerr.KindIO, "remove rolled-back table", err)
			}
			delete(d.Tables, name)
			continue
		}
		if err := t.Truncate(position, len(t.Manifest.Batches)); err != nil {
			return err
		}
		// Reopening dropped the column-major block; rebuild it at the last
		// sealed batch and keep that batch's original manifest entry.
		if n := len(t.Manifest.Batches); n > 0 {
			last := t.Manifest.Batches[n-1]
			if err := t.SealBatch(last.Name, last.Position, 0); err != nil {
				return err
			}
			t.Manifest.Batches = t.Manifest.Batches[:n]
			if err := t.Manifest.Save(d.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}
