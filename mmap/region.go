package mmap

import (
	"errors"
	"fmt"
	"os"
)

// Options control how a Region maps its file.
type Options uint

const (
	// Writable maps the file read-write, creating it if needed.
	Writable Options = 1 << iota

	// SequentialAccess asks the kernel for aggressive read-ahead.
	SequentialAccess

	// Prefault loads the whole file at map time (MAP_POPULATE on Linux).
	Prefault
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Region is a file mapped into memory in its entirety. Writable regions can
// be grown, which remaps the file; slices returned by Bytes before a Grow
// must not be used afterwards.
type Region struct {
	f    *os.File
	data []byte
	opt  Options
}

// Open maps the file at path. Writable regions create the file if needed and
// extend it to at least size bytes; read-only regions map the existing file
// and ignore size.
func Open(path string, size int, opt Options) (*Region, error) {
	var f *os.File
	var err error
	if opt.Has(Writable) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	} else {
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	fileSize := int(fi.Size())
	if opt.Has(Writable) && fileSize < size {
		fileSize = size
		err = f.Truncate(int64(size))
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	r := &Region{f: f, opt: opt}
	if fileSize > 0 {
		err = r.mapSize(fileSize)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// Bytes returns the mapped memory. Its length is the file size.
func (r *Region) Bytes() []byte {
	return r.data
}

func (r *Region) Size() int {
	return len(r.data)
}

func (r *Region) Name() string {
	return r.f.Name()
}

// Grow extends the file to size bytes and remaps it. Shrinking is a no-op.
func (r *Region) Grow(size int) error {
	if !r.opt.Has(Writable) {
		return fmt.Errorf("mmap: cannot grow read-only %s", r.f.Name())
	}
	if size <= len(r.data) {
		return nil
	}
	if size > MaxSize {
		return fmt.Errorf("mmap: %d bytes exceeds the maximum mapping size", size)
	}
	old := len(r.data)
	if r.data != nil {
		if err := munmap(r.data); err != nil {
			return err
		}
		r.data = nil
	}
	err := r.f.Truncate(int64(size))
	if err == nil {
		err = r.mapSize(size)
	}
	if err != nil && old > 0 {
		err = errors.Join(err, r.restore(old))
	}
	return err
}

// restore maps the first size bytes again after a failed Grow. When that
// fails too, Bytes is nil.
func (r *Region) restore(size int) error {
	if err := r.f.Truncate(int64(size)); err != nil {
		return err
	}
	return r.mapSize(size)
}

func (r *Region) mapSize(size int) error {
	b, err := mmap(r.f, size, r.opt)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", r.f.Name(), err)
	}
	r.data = b
	return nil
}

// Sync flushes the mapped data to disk. See SyncData for the error
// semantics.
func (r *Region) Sync() error {
	return SyncData(r.f, r.data)
}

// Close unmaps the region and truncates the file to keep bytes, unless keep
// is negative.
func (r *Region) Close(keep int) error {
	var errs []error
	if r.data != nil {
		errs = append(errs, munmap(r.data))
		r.data = nil
	}
	if keep >= 0 && r.opt.Has(Writable) {
		errs = append(errs, r.f.Truncate(int64(keep)))
	}
	errs = append(errs, r.f.Close())
	return errors.Join(errs...)
}
