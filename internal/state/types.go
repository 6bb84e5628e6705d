// Package state persists playground snapshots.
package state

import (
	"sort"

	"playfs/internal/pathutil"
	"playfs/internal/vfs"
)

// CurrentVersion is written into every new snapshot.
const CurrentVersion = 1

// Snapshot is the persisted content of a store.
type Snapshot struct {
	// Map of file paths to source
	Files map[string]string `json:"files"`

	// Leaf directories, so empty ones survive a round trip
	Directories []string `json:"directories,omitempty"`

	// Version for future compatibility
	Version int `json:"version"`
}

// Capture takes a snapshot of s.
func Capture(s *vfs.Store) *Snapshot {
	files := s.Snapshot()
	paths := s.Paths()
	var dirs []string
	for _, p := range paths {
		if _, ok := files[p]; ok {
			continue
		}
		if !hasChild(p, paths) {
			dirs = append(dirs, p)
		}
	}
	return &Snapshot{Files: files, Directories: dirs, Version: CurrentVersion}
}

// hasChild reports whether any of the sorted paths lies inside dir.
func hasChild(dir string, paths []string) bool {
	for _, p := range paths {
		if pathutil.IsDescendant(p, dir) {
			return true
		}
	}
	return false
}

// Restore writes the snapshot into s. Existing entries are kept.
func (snap *Snapshot) Restore(s *vfs.Store) error {
	dirs := append([]string(nil), snap.Directories...)
	sort.Strings(dirs)
	for _, d := range dirs {
		if err := s.Mkdir(d, vfs.MkdirOptions{Recursive: true}); err != nil {
			return err
		}
	}
	return s.Load(snap.Files)
}
