package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenBSD has no unified buffer cache, so mapped pages are flushed and
// invalidated explicitly.
func syncData(f *os.File, mapping []byte) error {
	if mapping == nil {
		return f.Sync()
	}
	return unix.Msync(mapping, unix.MS_SYNC|unix.MS_INVALIDATE)
}
