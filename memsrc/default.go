package memsrc

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// HugePagesOption selects which page size the Default source should
// prefer when it is constructed with NewDefault. Grounded on
// MemorySource.h/.cpp's HugePagesOption and getMountEntryAuto fallback
// chain (1G -> 2M -> default tmpfs).
type HugePagesOption int

const (
	// Auto tries 1 GiB hugepages, then 2 MiB hugepages, then falls back
	// to a regular tmpfs mount.
	Auto HugePagesOption = iota
	// HugePages2M requires a hugetlbfs mount with 2 MiB pages.
	HugePages2M
	// HugePages1G requires a hugetlbfs mount with 1 GiB pages.
	HugePages1G
	// NoHugePages uses a regular tmpfs mount, preferring /dev/shm then /tmp.
	NoHugePages
)

const (
	pageSize2M = 2 * 1024 * 1024
	pageSize1G = 1 * 1024 * 1024 * 1024
)

// Default discovers a backing directory and page size from the host's
// mount table. It implements Source.
type Default struct {
	dir      string
	pageSize int
}

type mountPoint struct {
	path     string
	pageSize int
}

var (
	mountsOnce sync.Once
	mounts     []mountPoint
	mountsErr  error
)

// readProcMounts scans /proc/mounts for tmpfs and hugetlbfs mount
// points, grounded on MemorySource.cpp's readProcMounts. tmpfs entries
// take the host's regular page size; hugetlbfs entries take the page
// size named in their "pagesize=" mount option, falling back to
// /proc/meminfo's Hugepagesize line if the option is absent.
func readProcMounts() ([]mountPoint, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defaultHuge, _ := defaultHugePageSize()
	regular := os.Getpagesize()

	var entries []mountPoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		dir, fstype, opts := fields[1], fields[2], fields[3]
		switch fstype {
		case "tmpfs":
			entries = append(entries, mountPoint{path: dir, pageSize: regular})
		case "hugetlbfs":
			ps, err := pageSizeFromMountOpts(opts)
			if err != nil {
				if defaultHuge > 0 {
					ps = defaultHuge
				} else {
					continue
				}
			}
			entries = append(entries, mountPoint{path: dir, pageSize: ps})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func pageSizeFromMountOpts(opts string) (int, error) {
	for _, opt := range strings.Split(opts, ",") {
		value, ok := strings.CutPrefix(opt, "pagesize=")
		if !ok {
			continue
		}
		switch value {
		case "2M":
			return pageSize2M, nil
		case "1G":
			return pageSize1G, nil
		default:
			return 0, fmt.Errorf("memsrc: unrecognized pagesize option %q", value)
		}
	}
	return 0, errors.New("memsrc: no pagesize mount option")
}

func defaultHugePageSize() (int, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		rest, ok := strings.CutPrefix(line, "Hugepagesize:")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "kB"))
		kb, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, errors.New("memsrc: Hugepagesize not found in /proc/meminfo")
}

func procMounts() ([]mountPoint, error) {
	mountsOnce.Do(func() {
		mounts, mountsErr = readProcMounts()
	})
	return mounts, mountsErr
}

func findMount(entries []mountPoint, pageSize int) (mountPoint, error) {
	for _, e := range entries {
		if e.pageSize == pageSize {
			return e, nil
		}
	}
	return mountPoint{}, fmt.Errorf("memsrc: no mount point with page size %d", pageSize)
}

func findDefaultMount(entries []mountPoint) (mountPoint, error) {
	regular := os.Getpagesize()
	var fallback mountPoint
	haveFallback := false
	for _, e := range entries {
		if e.pageSize != regular {
			continue
		}
		if e.path == "/dev/shm" {
			return e, nil
		}
		if e.path == "/tmp" {
			fallback, haveFallback = e, true
		}
	}
	if haveFallback {
		return fallback, nil
	}
	return mountPoint{}, errors.New("memsrc: no default tmpfs mount point found")
}

func findAutoMount(entries []mountPoint) (mountPoint, error) {
	if m, err := findMount(entries, pageSize1G); err == nil {
		return m, nil
	}
	if m, err := findMount(entries, pageSize2M); err == nil {
		return m, nil
	}
	return findDefaultMount(entries)
}

// NewDefault discovers a backing directory and page size according to
// opt, scanning the host's mount table (cached process-wide after the
// first call).
func NewDefault(opt HugePagesOption) (*Default, error) {
	entries, err := procMounts()
	if err != nil {
		return nil, err
	}

	var m mountPoint
	switch opt {
	case Auto:
		m, err = findAutoMount(entries)
	case NoHugePages:
		m, err = findDefaultMount(entries)
	case HugePages2M:
		m, err = findMount(entries, pageSize2M)
	case HugePages1G:
		m, err = findMount(entries, pageSize1G)
	default:
		return nil, fmt.Errorf("memsrc: invalid HugePagesOption %d", opt)
	}
	if err != nil {
		return nil, err
	}
	return &Default{dir: m.path, pageSize: m.pageSize}, nil
}

// NewDefaultAt builds a Default source against an explicit directory
// and page size, bypassing mount-table discovery entirely.
func NewDefaultAt(dir string, pageSize int) (*Default, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("memsrc: page size %d is not a power of two", pageSize)
	}
	return &Default{dir: dir, pageSize: pageSize}, nil
}

// Open implements Source.
func (d *Default) Open(name string, flag OpenFlag) (*os.File, int, error) {
	path := filepath.Join(d.dir, name)
	var f *os.File
	var err error
	switch flag {
	case OpenOnly:
		f, err = os.OpenFile(path, os.O_RDWR, 0)
	case OpenOrCreate:
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	default:
		return nil, 0, fmt.Errorf("memsrc: invalid OpenFlag %d", flag)
	}
	if err != nil {
		return nil, 0, err
	}
	return f, d.pageSize, nil
}
