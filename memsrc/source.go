// Package memsrc turns a queue name into a file handle plus the page
// size allocations against it should be rounded up to.
//
// Two implementations are provided: Default, which discovers a backing
// directory and page size by scanning the host's mount table for tmpfs
// and hugetlbfs mounts, and Anonymous, which backs a queue purely in
// memory via memfd_create with no path on disk at all.
package memsrc

import "os"

// OpenFlag selects whether Open must attach to an existing file or may
// create one.
type OpenFlag int

const (
	// OpenOnly requires the named file to already exist.
	OpenOnly OpenFlag = iota
	// OpenOrCreate attaches to the named file, creating it if absent.
	OpenOrCreate
)

// Source produces a file handle and the page size allocations against
// that handle should be rounded up to.
type Source interface {
	Open(name string, flag OpenFlag) (*os.File, int, error)
}
