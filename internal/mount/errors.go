package mount

import (
	"errors"
	"os"
	"syscall"

	"playfs/internal/extension"
	"playfs/internal/logging"
	"playfs/internal/vfs"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrReadOnly indicates an attempt to modify the _OUT tree
	ErrReadOnly = errors.New("filesystem is read-only")
)

// ToFuseError converts a store error to the FUSE error code the kernel
// expects.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var storeErr *vfs.Error
	if errors.As(err, &storeErr) {
		errLogger.Trace("Converting store error to FUSE error: %v", storeErr)
	}

	switch {
	case errors.Is(err, vfs.ErrNotFound), errors.Is(err, os.ErrNotExist), errors.Is(err, extension.ErrMissing):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, vfs.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, vfs.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, vfs.ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, vfs.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, extension.ErrUnavailable):
		return syscall.EAGAIN
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}
