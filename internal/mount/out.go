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
	outLogger = logging.GetLogger().WithPrefix("out")
)

// OutDir mirrors a store directory under _OUT. Its files hold transformed
// output and nothing under it can be modified.
type OutDir struct {
	fs   *FS
	path pathutil.Path
}

var (
	_ fusefs.Node               = (*OutDir)(nil)
	_ fusefs.NodeStringLookuper = (*OutDir)(nil)
	_ fusefs.HandleReadDirAller = (*OutDir)(nil)
	_ fusefs.NodeRenamer        = (*OutDir)(nil)
)

func (d *OutDir) Attr(_ context.Context, a *fuse.Attr) error {
	outLogger.Trace("Getting attributes for path: %q", d.path.String())
	if !d.fs.pg.IsDir(d.path.String()) {
		return syscall.ENOENT
	}
	a.Mode = os.ModeDir | 0555
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	a.Mtime = d.fs.mtime(d.path.String())
	return nil
}

func (d *OutDir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	outLogger.Debug("Looking up %q in %s/%s", name, OutDirName, d.path.String())
	child := d.path.Child(name)
	switch {
	case d.fs.pg.IsDir(child.String()):
		return &OutDir{fs: d.fs, path: child}, nil
	case d.fs.pg.Exists(child.String()):
		// Looking a file up is enough to start its transform
		d.fs.pg.URL(child.String())
		return &OutFile{fs: d.fs, path: child}, nil
	}
	return nil, syscall.ENOENT
}

func (d *OutDir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	outLogger.Debug("Reading %s directory: %q", OutDirName, d.path.String())
	children, err := d.fs.pg.ListTypes(d.path.String())
	if err != nil {
		return nil, ToFuseError(err)
	}
	entries := make([]fuse.Dirent, 0, len(children))
	for _, c := range children {
		typ := fuse.DT_File
		if c.Type == vfs.TypeDir {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: c.Name, Type: typ})
	}
	return entries, nil
}

func (d *OutDir) Rename(_ context.Context, _ *fuse.RenameRequest, _ fusefs.Node) error {
	outLogger.Warn("Cannot move within %s", OutDirName)
	return syscall.EPERM
}

// OutFile is the transformed output of one store file.
type OutFile struct {
	fs   *FS
	path pathutil.Path
}

var (
	_ fusefs.Node       = (*OutFile)(nil)
	_ fusefs.NodeOpener = (*OutFile)(nil)
)

// output waits up to OutWait for the transform of the file to settle.
func (f *OutFile) output(ctx context.Context) (string, error) {
	p := f.path.String()
	if !f.fs.pg.Exists(p) {
		return "", syscall.ENOENT
	}
	if _, ok := f.fs.pg.URL(p); !ok {
		ctx, cancel := context.WithTimeout(ctx, f.fs.OutWait)
		defer cancel()
		if err := f.fs.pg.Settle(ctx); err != nil {
			outLogger.Debug("Output of %q not settled: %v", p, err)
		}
	}
	out, _ := f.fs.pg.Transformed(p)
	return out, nil
}

func (f *OutFile) Attr(ctx context.Context, a *fuse.Attr) error {
	out, err := f.output(ctx)
	if err != nil {
		return err
	}
	mtime := f.fs.mtime(f.path.String())
	a.Mode = 0444
	a.Size = safeIntToUint64(len(out))
	a.Mtime = mtime
	a.Atime = mtime
	a.Ctime = mtime
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096
	a.Blocks = (a.Size + 511) / 512
	return nil
}

func (f *OutFile) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	outLogger.Debug("Opening file: %q", f.path.String())
	if !req.Flags.IsReadOnly() {
		outLogger.Warn("Write access attempted on read-only file")
		return nil, ToFuseError(ErrReadOnly)
	}
	out, err := f.output(ctx)
	if err != nil {
		return nil, err
	}
	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{fs: f.fs, path: f.path.String(), data: []byte(out)}, nil
}
