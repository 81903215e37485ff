//go:build !linux && !openbsd

package mmap

import "os"

func syncData(f *os.File, _ []byte) error {
	return f.Sync()
}
