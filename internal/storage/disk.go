package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Artifact describes one file on disk, such as embeddings.npy or the run ledger.
type Artifact struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"modified_at,omitempty"`
}

// StatArtifacts reports each path in order. Missing paths are reported with Exists false;
// other stat errors are returned.
func StatArtifacts(paths ...string) ([]Artifact, error) {
	out := make([]Artifact, 0, len(paths))
	for _, p := range paths {
		a := Artifact{Path: p}
		info, err := os.Stat(p)
		switch {
		case err == nil:
			a.Exists = true
			a.Size = info.Size()
			a.ModTime = info.ModTime()
		case os.IsNotExist(err):
		default:
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths contribute 0; other errors are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
