package mount

import (
	"context"
	"sync"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

const (
	xattrURL  = "user.playfs.url"
	xattrType = "user.playfs.type"
)

// File is a source file of the store.
type File struct {
	fs   *FS
	path pathutil.Path
}

var (
	_ fusefs.Node            = (*File)(nil)
	_ fusefs.NodeOpener      = (*File)(nil)
	_ fusefs.NodeSetattrer   = (*File)(nil)
	_ fusefs.NodeFsyncer     = (*File)(nil)
	_ fusefs.NodeGetxattrer  = (*File)(nil)
	_ fusefs.NodeListxattrer = (*File)(nil)
)

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	src, err := f.fs.pg.Read(f.path.String())
	if err != nil {
		return ToFuseError(err)
	}
	fileLogger.Trace("Getting attributes for file: %q", f.path.String())

	mtime := f.fs.mtime(f.path.String())
	a.Mode = 0644
	a.Size = safeIntToUint64(len(src))
	a.Mtime = mtime
	a.Atime = mtime
	a.Ctime = mtime
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096
	a.Blocks = (a.Size + 511) / 512
	return nil
}

// Setattr implements the NodeSetattrer interface. Only size changes are
// stored; mode and ownership are fixed.
func (f *File) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		size, err := fileSize(req.Size)
		if err != nil {
			fileLogger.Warn("Refusing to resize %q to %d bytes", f.path.String(), req.Size)
			return err
		}
		src, err := f.fs.pg.Read(f.path.String())
		if err != nil {
			return ToFuseError(err)
		}
		fileLogger.Debug("Truncating %q to %d bytes", f.path.String(), size)
		if err := f.fs.pg.Write(f.path.String(), string(resize([]byte(src), size))); err != nil {
			return ToFuseError(err)
		}
	}
	return f.Attr(context.Background(), &resp.Attr)
}

// Open implements the NodeOpener interface.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Debug("Opening file %q with flags %v", f.path.String(), req.Flags)
	h, err := f.open(req.Flags)
	if err != nil {
		return nil, err
	}
	resp.Flags |= fuse.OpenDirectIO
	return h, nil
}

func (f *File) open(flags fuse.OpenFlags) (*FileHandle, error) {
	src, err := f.fs.pg.Read(f.path.String())
	if err != nil {
		return nil, ToFuseError(err)
	}
	h := &FileHandle{fs: f.fs, path: f.path.String(), writable: !flags.IsReadOnly()}
	if flags&fuse.OpenTruncate != 0 && h.writable {
		h.dirty = src != ""
	} else {
		h.data = []byte(src)
	}
	return h, nil
}

// Fsync implements the NodeFsyncer interface. Writes reach the store on
// flush, so there is nothing left to sync.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// Getxattr implements the NodeGetxattrer interface, exposing the published
// executable URL and the type of the file.
func (f *File) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	fileLogger.Debug("Getting xattr %q for file %q", req.Name, f.path.String())
	switch req.Name {
	case xattrURL:
		url, ok := f.fs.pg.URL(f.path.String())
		if !ok {
			return fuse.ErrNoXattr
		}
		resp.Xattr = []byte(url)
	case xattrType:
		typ, err := f.fs.pg.TypeOf(f.path.String())
		if err != nil {
			return ToFuseError(err)
		}
		resp.Xattr = []byte(typ)
	default:
		return fuse.ErrNoXattr
	}
	return nil
}

// Listxattr implements the NodeListxattrer interface.
func (f *File) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	resp.Append(xattrType)
	if _, ok := f.fs.pg.URL(f.path.String()); ok {
		resp.Append(xattrURL)
	}
	return nil
}

// FileHandle buffers the content of an open file. Writes are committed to
// the store on flush and release.
type FileHandle struct {
	fs       *FS
	path     string
	writable bool

	mu    sync.Mutex
	data  []byte
	dirty bool
}

var (
	_ fusefs.HandleReader   = (*FileHandle)(nil)
	_ fusefs.HandleWriter   = (*FileHandle)(nil)
	_ fusefs.HandleFlusher  = (*FileHandle)(nil)
	_ fusefs.HandleReleaser = (*FileHandle)(nil)
)

// Read implements the HandleReader interface.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, fh.path, req.Offset)
	resp.Data = window(fh.data, req.Offset, req.Size)
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if !fh.writable {
		return syscall.EBADF
	}
	if req.Offset < 0 {
		return syscall.EINVAL
	}
	end, err := fileSize(uint64(req.Offset) + uint64(len(req.Data)))
	if err != nil {
		return err
	}
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if end > len(fh.data) {
		fh.data = resize(fh.data, end)
	}
	copy(fh.data[req.Offset:], req.Data)
	fh.dirty = true
	resp.Size = len(req.Data)
	return nil
}

// Flush implements the HandleFlusher interface, committing writes.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	return fh.commit()
}

// Release implements the HandleReleaser interface.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Closing file %q", fh.path)
	return fh.commit()
}

func (fh *FileHandle) commit() error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if !fh.dirty {
		return nil
	}
	if err := fh.fs.pg.Write(fh.path, string(fh.data)); err != nil {
		fileLogger.Error("Failed to write %q: %v", fh.path, err)
		return ToFuseError(err)
	}
	fh.dirty = false
	fileLogger.Debug("Committed %d bytes to %q", len(fh.data), fh.path)
	return nil
}

// window returns at most size bytes of data starting at off.
func window(data []byte, off int64, size int) []byte {
	if off < 0 || off >= int64(len(data)) {
		return nil
	}
	end := off + int64(size)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return append([]byte(nil), data[off:end]...)
}

// resize truncates or zero-extends b to n bytes.
func resize(b []byte, n int) []byte {
	if n <= len(b) {
		return b[:n]
	}
	return append(b, make([]byte, n-len(b))...)
}
