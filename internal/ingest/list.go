package ingest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

// ListDatabases returns the names of every subdirectory of root that holds a
// database manifest ("##header.json"), sorted for deterministic listing
// responses over the cluster protocol.
func ListDatabases(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "scan database root", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), "##header.json")); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ContentHash is the database's authoritative content hash advertised to
// the cluster's node registry: the latest batch's content hash, or empty
// for a freshly created database with no batches yet.
func (d *Database) ContentHash() string {
	if len(d.Manifest.Batches) == 0 {
		return ""
	}
	return d.Manifest.Batches[len(d.Manifest.Batches)-1].ContentHash
}
