package ingest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/store"
)

// Restore implements spec.md 3's restoration semantics and scenario S5:
// truncate every table to its row count as of batchName, drop any table
// introduced after batchName, and rewrite the top manifest so its batch
// list (and therefore its last entry's content hash) ends at batchName.
//
// Every affected table's field files are re-sealed at the restored batch's
// recorded position so the column-major block matches the truncated
// row-major block again (Truncate leaves the transpose dropped, not
// rebuilt, until a caller seals).
func (d *Database) Restore(batchName string, maxChunkBytes int64) error {
	batchIdx := -1
	for i, b := range d.Manifest.Batches {
		if b.Name == batchName {
			batchIdx = i
			break
		}
	}
	if batchIdx == -1 {
		return loaditerr.Newf(loaditerr.KindNotFound, "batch %q not found", batchName)
	}

	if err := d.Close(); err != nil {
		return err
	}
	d.Tables = make(map[string]*store.Table)

	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "scan database directory", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == attachmentsDir {
			continue
		}
		tableName := entry.Name()
		manifest, err := store.LoadTableManifest(d.Path, tableName)
		if err != nil {
			return err
		}

		restorePos, keepBatches := -1, -1
		for i, b := range manifest.Batches {
			if b.Name == batchName {
				restorePos, keepBatches = int(b.Position), i+1
				break
			}
		}
		if restorePos == -1 {
			// Table did not exist as of batchName: it was introduced by a
			// later batch. Drop it entirely.
			if err := os.RemoveAll(filepath.Join(d.Path, tableName)); err != nil {
				return loaditerr.Wrap(loaditerr.KindIO, "remove table introduced after restore point", err)
			}
			continue
		}

		t, err := store.OpenTable(d.Path, manifest, false)
		if err != nil {
			return err
		}
		if err := t.Truncate(int64(restorePos), keepBatches); err != nil {
			t.Close()
			return err
		}
		if err := t.SealBatch(batchName, int64(restorePos), maxChunkBytes); err != nil {
			t.Close()
			return err
		}
		// SealBatch recomputed the transpose and hashes over the
		// now-truncated files but appended them as a new trailing entry;
		// fold that entry back into the restored batch's own slot so the
		// manifest's batch list still ends exactly at batchName, now with
		// hashes matching the truncated+resealed content.
		resealed := t.Manifest.Batches[keepBatches]
		t.Manifest.Batches = t.Manifest.Batches[:keepBatches]
		t.Manifest.Batches[keepBatches-1] = resealed
		t.Manifest.Batches[keepBatches-1].Name = batchName
		t.Manifest.Batches[keepBatches-1].Position = int64(restorePos)
		if err := t.Manifest.Save(d.Path); err != nil {
			t.Close()
			return err
		}
		if err := t.Close(); err != nil {
			return err
		}
	}

	tableHashes := make(map[string]string)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() != attachmentsDir {
			if _, err := os.Stat(filepath.Join(d.Path, entry.Name())); err == nil {
				names = append(names, entry.Name())
			}
		}
	}
	sort.Strings(names)
	for _, name := range names {
		h, err := store.HashFile(filepath.Join(d.Path, name, "#header.json"))
		if err != nil {
			return err
		}
		tableHashes[name] = h
	}

	d.Manifest.TableHashes = tableHashes
	d.Manifest.Batches = d.Manifest.Batches[:batchIdx+1]
	return d.Manifest.Save(d.Path)
}

// Check recomputes the content hash of every field file in every table and
// returns the relative paths ("<table>/<file>.bin") of any that no longer
// match the hash recorded at the table's latest seal. Non-throwing per
// spec.md §7.
func (d *Database) Check() ([]string, error) {
	var corrupted []string
	for name := range d.Manifest.TableHashes {
		manifest, err := store.LoadTableManifest(d.Path, name)
		if err != nil {
			return nil, err
		}
		t, err := store.OpenTableReadOnly(d.Path, manifest)
		if err != nil {
			return nil, err
		}
		bad, err := t.Check()
		if err != nil {
			return nil, err
		}
		for _, f := range bad {
			corrupted = append(corrupted, filepath.Join(name, f))
		}
	}
	sort.Strings(corrupted)
	return corrupted, nil
}
