package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic replaces path with data so that readers observe either the
// previous content or the new content, never a truncated file.
//
// The bytes are written to a temp file in the same directory, synced, renamed
// over path, and the directory is synced so the rename itself is durable.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

// removeDurable deletes path if present and syncs its directory.
func removeDurable(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// clearDir removes the state files owned by skippy inside dir, leaving dir
// itself and anything else in it in place. A missing dir is already clear.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	removed := false
	for _, e := range entries {
		if !e.Type().IsRegular() || !ownedFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed = true
	}
	if !removed {
		return nil
	}
	return fsyncDir(dir)
}

// ownedFile reports whether name is a state file skippy writes, including
// temp files left behind by an interrupted WriteFileAtomic.
func ownedFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		if i := strings.LastIndex(name, ".tmp."); i > 1 {
			return ownedFile(name[1:i])
		}
		return false
	}
	switch name {
	case RegistryFile, DecisionLogFile, CommitMarkerFile:
		return true
	}
	return strings.HasSuffix(name, CoverageExt) && len(name) > len(CoverageExt)
}
