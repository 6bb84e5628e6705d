package mount

import "syscall"

// maxFileSize bounds the size a file can reach through the mount.
const maxFileSize = 1 << 30

// fileSize converts a requested file size, failing with EFBIG past
// maxFileSize.
func fileSize(n uint64) (int, error) {
	if n > maxFileSize {
		return 0, syscall.EFBIG
	}
	return int(n), nil
}

func safeIntToUint64(n int) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}
