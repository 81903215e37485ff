//go:build unix

package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mmap(f *os.File, size int, opt Options) ([]byte, error) {
	prot := unix.PROT_READ
	if opt.Has(Writable) {
		prot |= unix.PROT_WRITE
	}
	flags := unix.MAP_SHARED
	if opt.Has(Prefault) {
		flags |= mapPopulate
	}

	b, err := unix.Mmap(int(f.Fd()), 0, size, prot, flags)
	if err != nil {
		return nil, err
	}
	if opt.Has(SequentialAccess) {
		// ENOSYS means the kernel ignores hints, which is fine
		if err := unix.Madvise(b, unix.MADV_SEQUENTIAL); err != nil && err != unix.ENOSYS {
			unix.Munmap(b)
			return nil, fmt.Errorf("madvise: %w", err)
		}
	}
	return b, nil
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
