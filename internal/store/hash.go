package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", loaditerr.Wrap(loaditerr.KindIO, "open file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", loaditerr.Wrap(loaditerr.KindIO, "hash file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BatchContentHash implements spec.md 3's hash chain: "content_hash of a
// batch = hash(concatenation of per-table header hashes, in table-name
// order)". tableHashes maps table name to that table's #header.json hash.
func BatchContentHash(tableHashes map[string]string) string {
	names := make([]string, 0, len(tableHashes))
	for name := range tableHashes {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(tableHashes[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile exposes hashFile for the manifest's per-table header hash, used
// when chaining a new batch's content hash.
func HashFile(path string) (string, error) { return hashFile(path) }
