//go:build !linux

package memsrc

import (
	"errors"
	"os"
)

// Anonymous is unsupported outside Linux: memfd_create has no portable
// equivalent, and the core's hugepage/tmpfs discovery is itself a Linux
// mount-table concept.
type Anonymous struct{}

// Open implements Source.
func (Anonymous) Open(name string, _ OpenFlag) (*os.File, int, error) {
	return nil, 0, errors.New("memsrc: Anonymous is only supported on linux")
}
