//go:build linux

package region

import "golang.org/x/sys/unix"

// mapPopulateFlag prefaults the mapping's pages at mmap time on Linux,
// matching detail/memory.cpp's MAP_SHARED|MAP_POPULATE.
const mapPopulateFlag = unix.MAP_POPULATE
