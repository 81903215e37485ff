package mmap

import "os"

// SyncData makes the data written to f durable without forcing a metadata
// update where the platform allows it. mapping, if non-nil, is the mapped
// view of f; some platforms have to flush it separately.
//
// A failed sync leaves the on-disk contents undefined, and the kernel may
// already have marked the pages clean. Treat the error as fatal for the file.
func SyncData(f *os.File, mapping []byte) error {
	return syncData(f, mapping)
}
