package cluster

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/wire"
)

// StaleDatabases compares local (this node's authoritative hashes) against
// remote (a peer's advertised hashes) and returns, in sorted order, the
// database names the peer needs: present locally with a differing remote
// hash, plus any database missing from the peer's advertised set unless
// updateOnly is set and the peer is not a backup. Mirrors the original
// implementation's sync_databases update_only/backup branching exactly.
func StaleDatabases(local, remote map[string]string, updateOnly, peerIsBackup bool) []string {
	var stale []string
	for name, hash := range local {
		remoteHash, present := remote[name]
		switch {
		case !updateOnly:
			if !present || remoteHash != hash {
				stale = append(stale, name)
			}
		case peerIsBackup:
			if !present || remoteHash != hash {
				stale = append(stale, name)
			}
		default:
			if present && remoteHash != hash {
				stale = append(stale, name)
			}
		}
	}
	sort.Strings(stale)
	return stale
}

// databaseFiles lists every manifest and field-data file under a database
// directory, relative to it, matching the original's "**/*header.* and
// **/*.bin" glob.
func databaseFiles(databasePath string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(databasePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if filepath.Ext(name) == ".bin" || filepath.Ext(name) == ".json" && isHeaderFile(name) {
			rel, err := filepath.Rel(databasePath, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "list database files", err)
	}
	sort.Strings(files)
	return files, nil
}

func isHeaderFile(name string) bool {
	return name == "##header.json" || name == "#header.json"
}

// SendDatabase streams every manifest/field file of database under
// databasePath to the peer over conn, acknowledging each bulk transfer
// before sending the next — the sender side of sync_databases.
func SendDatabase(conn *wire.Conn, databasePath string) error {
	files, err := databaseFiles(databasePath)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(files); err != nil {
		return err
	}
	for _, rel := range files {
		f, err := os.Open(filepath.Join(databasePath, rel))
		if err != nil {
			return loaditerr.Wrap(loaditerr.KindIO, "open file for replication", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return loaditerr.Wrap(loaditerr.KindIO, "stat file for replication", err)
		}
		if err := conn.WriteJSON(rel); err != nil {
			f.Close()
			return err
		}
		if err := conn.SendBulkWithAck(f, info.Size()); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return nil
}

// RecvDatabase receives a full database transfer into a sibling
// "<name>_TEMP" directory, then removes the previous copy and renames the
// temp directory into its place. On any failure the temp directory is
// removed; a failure before that swap leaves the previous copy untouched,
// while a failed rename leaves no copy at all — mirrors the original's recv_databases: "write into
// name_TEMP/, then rename over the old directory, removing it first;
// failure mid-transfer deletes name_TEMP/".
func RecvDatabase(conn *wire.Conn, databasePath string) (err error) {
	var files []string
	if err := conn.ReadJSON(&files); err != nil {
		return err
	}

	tempPath := databasePath + "_TEMP"
	if err := os.MkdirAll(tempPath, 0o755); err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "create replication temp dir", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(tempPath)
		}
	}()

	for range files {
		var rel string
		if err := conn.ReadJSON(&rel); err != nil {
			return err
		}
		dest := filepath.Join(tempPath, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return loaditerr.Wrap(loaditerr.KindIO, "create replication file dir", err)
		}
		out, err := os.Create(dest)
		if err != nil {
			return loaditerr.Wrap(loaditerr.KindIO, "create replication file", err)
		}
		_, recvErr := conn.RecvBulkWithAck(out)
		out.Close()
		if recvErr != nil {
			return recvErr
		}
	}

	if _, statErr := os.Stat(databasePath); statErr == nil {
		if err := os.RemoveAll(databasePath); err != nil {
			return loaditerr.Wrap(loaditerr.KindIO, "remove stale database copy", err)
		}
	}
	if err := os.Rename(tempPath, databasePath); err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "rename replicated database into place", err)
	}
	return nil
}
