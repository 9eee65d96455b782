package automation

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// renameFile is swapped in tests to simulate a crash before the rename.
var renameFile = os.Rename

// writeFileAtomic writes data to a temporary file in the target directory,
// fsyncs it and renames it over path. Readers see either the old or the new
// contents, never a partial write.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmp := file.Name()

	if err := file.Chmod(perm); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("chmod temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := renameFile(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming into place: %w", err)
	}

	// Make the rename durable.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
