package ingest

import (
	"io"
	"os"
	"path/filepath"

	"github.com/alvarosanz/loadit/internal/loaditerr"
	"github.com/alvarosanz/loadit/internal/store"
)

// AddAttachment copies src into the database's .attachments/ directory
// under name, recording its content hash and size in the top manifest
// (spec.md §3, "Attachments").
func (d *Database) AddAttachment(name, src string) error {
	dst := filepath.Join(d.Path, attachmentsDir, name)
	in, err := os.Open(src)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "open attachment source", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "create attachment", err)
	}
	size, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "write attachment", err)
	}

	hash, err := store.HashFile(dst)
	if err != nil {
		return err
	}
	d.Manifest.Attachments[name] = store.Attachment{Hash: hash, Size: size}
	return d.Manifest.Save(d.Path)
}

// RemoveAttachment deletes name's blob and manifest entry.
func (d *Database) RemoveAttachment(name string) error {
	if _, ok := d.Manifest.Attachments[name]; !ok {
		return loaditerr.Newf(loaditerr.KindNotFound, "attachment %q not found", name)
	}
	if err := os.Remove(filepath.Join(d.Path, attachmentsDir, name)); err != nil && !os.IsNotExist(err) {
		return loaditerr.Wrap(loaditerr.KindIO, "remove attachment", err)
	}
	delete(d.Manifest.Attachments, name)
	return d.Manifest.Save(d.Path)
}

// AttachmentPath returns the on-disk path of a stored attachment, for
// streaming to a client via the bulk file-transfer path (spec.md §4.F).
func (d *Database) AttachmentPath(name string) (string, error) {
	if _, ok := d.Manifest.Attachments[name]; !ok {
		return "", loaditerr.Newf(loaditerr.KindNotFound, "attachment %q not found", name)
	}
	return filepath.Join(d.Path, attachmentsDir, name), nil
}
