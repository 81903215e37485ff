package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func syncData(f *os.File, _ []byte) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
