// Package region wraps the host file/mmap primitives the core queue
// engines are built on: open-or-create, size query, truncate, advisory
// whole-file locking, and mapping an entire file read-write and shared.
package region

import (
	"os"

	"golang.org/x/sys/unix"
)

// File wraps an *os.File with the advisory-locking, sizing, and mapping
// operations the queue containers need.
type File struct {
	f *os.File
}

// New wraps an already-open file.
func New(f *os.File) *File {
	return &File{f: f}
}

// OSFile returns the underlying *os.File.
func (r *File) OSFile() *os.File {
	return r.f
}

// Close closes the underlying file. It does not unmap any region
// obtained from Map; callers must call Unmap first.
func (r *File) Close() error {
	return r.f.Close()
}

// Size returns the file's current size in bytes, via fstat rather than
// os.File.Stat to avoid an extra syscall round trip through the Go
// runtime's file-info wrapping.
func (r *File) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(r.f.Fd()), &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}

// Truncate sets the file's size, growing or shrinking it as needed.
func (r *File) Truncate(size int64) error {
	return unix.Ftruncate(int(r.f.Fd()), size)
}

// TryLockExclusive attempts to acquire an advisory whole-file exclusive
// lock without blocking. It is the mechanism the queue containers use
// to enforce their per-kind singleton role: a second attach that loses
// the race gets an error back immediately rather than hanging.
func (r *File) TryLockExclusive() error {
	return unix.Flock(int(r.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// Unlock releases a previously-acquired advisory exclusive lock,
// letting a subsequent TryLockExclusive from this or another process
// succeed.
func (r *File) Unlock() error {
	return unix.Flock(int(r.f.Fd()), unix.LOCK_UN)
}

// Map maps the first size bytes of the file read-write and shared
// across processes, prefaulting pages where the platform supports it.
// Grounded on detail/memory.cpp's mapFile, which uses
// mmap(nullptr, fileSize, PROT_READ|PROT_WRITE, MAP_SHARED|MAP_POPULATE, fd, 0).
func (r *File) Map(size int) ([]byte, error) {
	return unix.Mmap(int(r.f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|mapPopulateFlag)
}

// Unmap releases a mapping obtained from Map.
func Unmap(b []byte) error {
	return unix.Munmap(b)
}
