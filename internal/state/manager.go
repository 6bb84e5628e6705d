package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"playfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

const (
	backupDirName      = ".playfs-backups"
	defaultBackupCount = 5
)

// Manager handles loading and saving snapshots
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	mu          sync.RWMutex
}

// NewManager creates a new state manager for the given snapshot file path.
// It ensures the state directory exists and is writable.
func NewManager(statePath string) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Try to open the file for writing to verify we have write permissions
	f, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, err)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, backupDirName)
	logger.Debug("Creating backup directory: %s", backupDir)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
	}

	logger.Info("State manager initialization complete")
	return &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: defaultBackupCount,
	}, nil
}

// Path returns the absolute path of the snapshot file.
func (sm *Manager) Path() string {
	return sm.statePath
}

// Load reads the snapshot from disk. A missing or empty file yields an
// empty snapshot.
func (sm *Manager) Load() (*Snapshot, error) {
	logger.Debug("Loading snapshot from: %s", sm.statePath)
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	data, err := os.ReadFile(sm.statePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		logger.Info("No snapshot yet, starting empty")
		return &Snapshot{Files: make(map[string]string), Version: CurrentVersion}, nil
	}

	logger.Debug("Parsing snapshot (%d bytes)", len(data))
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if snap.Version > CurrentVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", snap.Version, CurrentVersion)
	}
	if snap.Files == nil {
		snap.Files = make(map[string]string)
	}

	logger.Info("Snapshot loaded: %d files", len(snap.Files))
	return &snap, nil
}

// Save writes the snapshot to disk. It creates a backup of the previous
// snapshot first.
func (sm *Manager) Save(snap *Snapshot) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	logger.Debug("Saving snapshot to: %s", sm.statePath)

	if err := sm.createBackup(); err != nil {
		logger.Warn("Failed to create backup: %v", err)
		// Continue with save even if backup fails
	}

	if snap.Version == 0 {
		snap.Version = CurrentVersion
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write to a temp file and rename it into place
	tmp := sm.statePath + ".tmp"
	logger.Trace("Writing %d bytes of snapshot data", len(data))
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, sm.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	logger.Debug("Snapshot saved: %d files", len(snap.Files))
	return nil
}

// Backups lists the backup files, newest first.
func (sm *Manager) Backups() ([]string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	backups, err := sm.backups()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(backups))
	for i, b := range backups {
		paths[i] = b.path
	}
	return paths, nil
}

// createBackup creates a timestamped backup of the current snapshot file
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("snapshot-%s.json", timestamp))

	logger.Debug("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

type backup struct {
	path    string
	modTime time.Time
}

func (sm *Manager) backups() ([]backup, error) {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return nil, err
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			backups = append(backups, backup{
				path:    filepath.Join(sm.backupDir, entry.Name()),
				modTime: info.ModTime(),
			})
		}
	}

	// Sort newest first; names carry the timestamp and break mtime ties
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].modTime.After(backups[j].modTime)
		}
		return backups[i].path > backups[j].path
	})
	return backups, nil
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	backups, err := sm.backups()
	if err != nil {
		return err
	}

	for i := sm.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i].path)
		if err := os.Remove(backups[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].path, err)
		}
	}

	return nil
}
