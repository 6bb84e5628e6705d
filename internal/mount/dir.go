package mount

import (
	"context"
	"os"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
	"playfs/internal/vfs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a directory of the store.
type Dir struct {
	fs   *FS
	path pathutil.Path
}

var (
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
	_ fusefs.NodeMkdirer        = (*Dir)(nil)
	_ fusefs.NodeCreater        = (*Dir)(nil)
	_ fusefs.NodeRemover        = (*Dir)(nil)
	_ fusefs.NodeRenamer        = (*Dir)(nil)
)

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path.String())
	if !d.fs.pg.IsDir(d.path.String()) {
		return syscall.ENOENT
	}
	a.Mode = os.ModeDir | 0755
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	a.Mtime = d.fs.mtime(d.path.String())
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path.String())

	if d.path.IsRoot() && name == OutDirName {
		return &OutDir{fs: d.fs, path: pathutil.NewPath("")}, nil
	}

	child := d.path.Child(name)
	switch {
	case d.fs.pg.IsDir(child.String()):
		return &Dir{fs: d.fs, path: child}, nil
	case d.fs.pg.Exists(child.String()):
		return &File{fs: d.fs, path: child}, nil
	}
	dirLogger.Debug("Path not found: %q", child.String())
	return nil, syscall.ENOENT
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path.String())
	children, err := d.fs.pg.ListTypes(d.path.String())
	if err != nil {
		return nil, ToFuseError(err)
	}

	entries := make([]fuse.Dirent, 0, len(children)+3)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	if d.path.IsRoot() {
		entries = append(entries, fuse.Dirent{Name: OutDirName, Type: fuse.DT_Dir})
	}
	for _, c := range children {
		typ := fuse.DT_File
		if c.Type == vfs.TypeDir {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: c.Name, Type: typ})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path.String(), len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a new directory.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child := d.path.Child(req.Name)
	dirLogger.Info("Creating new directory %q", child.String())
	if d.path.IsRoot() && req.Name == OutDirName {
		return nil, syscall.EEXIST
	}
	if err := d.fs.pg.Mkdir(child.String(), vfs.MkdirOptions{}); err != nil {
		return nil, ToFuseError(err)
	}
	return &Dir{fs: d.fs, path: child}, nil
}

// Create implements the NodeCreater interface, creating an empty file and
// opening it.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child := d.path.Child(req.Name)
	dirLogger.Info("Creating new file %q", child.String())
	if d.path.IsRoot() && req.Name == OutDirName {
		return nil, nil, syscall.EEXIST
	}
	if d.fs.pg.IsDir(child.String()) {
		return nil, nil, syscall.EISDIR
	}
	if !d.fs.pg.Exists(child.String()) || req.Flags&fuse.OpenTruncate != 0 {
		if err := d.fs.pg.Write(child.String(), ""); err != nil {
			return nil, nil, ToFuseError(err)
		}
	}
	f := &File{fs: d.fs, path: child}
	h, err := f.open(req.Flags)
	if err != nil {
		return nil, nil, err
	}
	resp.Flags |= fuse.OpenDirectIO
	return f, h, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	child := d.path.Child(req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", child.String(), req.Dir)
	if d.path.IsRoot() && req.Name == OutDirName {
		return syscall.EPERM
	}
	if req.Dir != d.fs.pg.IsDir(child.String()) {
		if req.Dir {
			return syscall.ENOTDIR
		}
		return syscall.EISDIR
	}
	if err := d.fs.pg.Remove(child.String(), vfs.RemoveOptions{}); err != nil {
		return ToFuseError(err)
	}
	return nil
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	var target pathutil.Path
	switch t := newDir.(type) {
	case *Dir:
		target = t.path
	case *OutDir:
		dirLogger.Warn("Cannot move into %s", OutDirName)
		return syscall.EPERM
	default:
		dirLogger.Error("Target is not a valid directory type")
		return syscall.EINVAL
	}

	from := d.path.Child(req.OldName)
	to := target.Child(req.NewName)
	dirLogger.Info("Renaming %q to %q", from.String(), to.String())

	// rename(2) replaces an existing file target
	if d.fs.pg.Exists(to.String()) && !d.fs.pg.IsDir(to.String()) && !d.fs.pg.IsDir(from.String()) {
		if err := d.fs.pg.Remove(to.String(), vfs.RemoveOptions{}); err != nil {
			return ToFuseError(err)
		}
	}
	if err := d.fs.pg.Rename(from.String(), to.String()); err != nil {
		return ToFuseError(err)
	}
	return nil
}
