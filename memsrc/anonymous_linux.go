//go:build linux

package memsrc

import (
	"os"

	"golang.org/x/sys/unix"
)

// Anonymous backs a queue purely in memory via memfd_create, for
// same-process or fork-sharing use with no path on disk. Grounded on
// File::anonymous/AnonymousMemorySource.
type Anonymous struct{}

// Open implements Source. flag is ignored: an anonymous region always
// starts out empty, so every Open behaves like OpenOrCreate.
func (Anonymous) Open(name string, _ OpenFlag) (*os.File, int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, 0, err
	}
	return os.NewFile(uintptr(fd), name), os.Getpagesize(), nil
}
