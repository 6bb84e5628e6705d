// Package mount exposes a playground as a FUSE filesystem. Sources are
// read and written in place; the _OUT directory holds the transformed
// output of every file.
package mount

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
	"playfs/internal/playground"
	"playfs/internal/vfs"
)

var (
	mountLogger = logging.GetLogger().WithPrefix("mount")
)

// OutDirName is the root directory holding transformed output.
const OutDirName = "_OUT"

// FS serves a playground over FUSE.
type FS struct {
	pg      *playground.FileSystem
	conn    *fuse.Conn
	uid     uint32
	gid     uint32
	started time.Time
	// OutWait bounds how long reading _OUT waits for a pending transform.
	OutWait time.Duration

	mu     sync.RWMutex
	mtimes map[string]time.Time
	stop   func()
}

// New creates a FUSE view of pg.
func New(pg *playground.FileSystem) *FS {
	mountLogger.Info("Creating new FUSE view")

	// Get UID/GID from environment if set
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			mountLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			mountLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	f := &FS{
		pg:      pg,
		uid:     uid,
		gid:     gid,
		started: time.Now(),
		OutWait: 2 * time.Second,
		mtimes:  make(map[string]time.Time),
	}
	f.stop = pg.Store().Subscribe(f.touch)
	return f
}

// touch records modification times, which the store does not keep.
func (f *FS) touch(events []vfs.Event) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		switch ev.Op {
		case vfs.EventRemove:
			delete(f.mtimes, ev.Path)
		case vfs.EventRename:
			f.mtimes[ev.Path] = f.mtimes[ev.OldPath]
			delete(f.mtimes, ev.OldPath)
		default:
			f.mtimes[ev.Path] = now
		}
	}
}

func (f *FS) mtime(p string) time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if t, ok := f.mtimes[p]; ok && !t.IsZero() {
		return t
	}
	return f.started
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (f *FS) Root() (fusefs.Node, error) {
	mountLogger.Trace("Getting root directory node")
	return &Dir{fs: f, path: pathutil.NewPath("")}, nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the filesystem and serves it in the background.
func (f *FS) Mount(mountPoint string) error {
	mountLogger.Info("Mounting playground")
	mountLogger.Debug("Mount point: %s", mountPoint)
	mountLogger.Debug("UID: %d, GID: %d", f.uid, f.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("playfs"),
		fuse.Subtype("playfs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
		fuse.AllowNonEmptyMount(),
	}
	if os.Getenv("PLAYFS_ALLOW_OTHER") != "" {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	f.conn = c

	go func() {
		if err := fusefs.Serve(c, f); err != nil {
			mountLogger.Error("FUSE server error: %v", err)
		}
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		mountLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	mountLogger.Info("Filesystem mounted successfully")
	return nil
}

// Unmount cleanly unmounts the filesystem.
func (f *FS) Unmount(mountPoint string) error {
	mountLogger.Info("Unmounting filesystem from: %s", mountPoint)
	f.stop()
	if f.conn == nil {
		return nil
	}
	err := fuse.Unmount(mountPoint)
	if err != nil {
		mountLogger.Error("Unmount failed: %v", err)
	} else {
		mountLogger.Info("Unmount completed successfully")
	}
	f.conn.Close()
	return err
}
