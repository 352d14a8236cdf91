package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// entry is the state of one path before Apply first touched it
type entry struct {
	path    string
	existed bool
	prior   []byte
	mode    os.FileMode
}

// journal records prior state so a failed Apply can restore the tree
type journal struct {
	entries []entry
	seen    map[string]bool
	dirs    []string // directories Apply created
}

func newJournal() *journal {
	return &journal{seen: make(map[string]bool)}
}

// record captures the current state of path, once per Apply
func (j *journal) record(path string) error {
	if j.seen[path] {
		return nil
	}

	e := entry{path: path}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", path, err)
		}
		e.existed = true
		e.prior = data
		e.mode = info.Mode().Perm()
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	j.seen[path] = true
	j.entries = append(j.entries, e)
	return nil
}

// mkdirAll creates dir and its missing parents, remembering which ones it
// created
func (j *journal) mkdirAll(dir string) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	j.dirs = append(j.dirs, missing...)
	return nil
}

// rollback restores every recorded path in reverse order, then removes the
// directories Apply created. It returns the paths it could not restore.
func (j *journal) rollback() error {
	var failed []string
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		var err error
		if e.existed {
			err = atomicWrite(e.path, e.prior, e.mode)
		} else {
			err = os.Remove(e.path)
			if os.IsNotExist(err) {
				err = nil
			}
		}
		if err != nil {
			failed = append(failed, e.path)
		}
	}

	// Children before parents; os.Remove leaves non-empty directories alone
	dirs := append([]string(nil), j.dirs...)
	sort.SliceStable(dirs, func(a, b int) bool { return depth(dirs[a]) > depth(dirs[b]) })
	for _, d := range dirs {
		_ = os.Remove(d)
	}

	if len(failed) > 0 {
		return fmt.Errorf("rollback could not restore %s", strings.Join(failed, ", "))
	}
	return nil
}

func depth(p string) int {
	return strings.Count(filepath.ToSlash(filepath.Clean(p)), "/")
}

// atomicWrite writes data to a temp file beside path and renames it over path
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
