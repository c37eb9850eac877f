package pci

import (
	"fmt"
	"strings"
)

// MapMethod selects how the sysfs backend maps regions.
type MapMethod int

const (
	// MapMethodMmap maps the resourceN files. I/O regions cannot be mapped.
	MapMethodMmap MapMethod = iota
	// MapMethodFile accesses resourceN files with pread and pwrite, which
	// also works for I/O regions.
	MapMethodFile
	// MapMethodDevMem maps the physical address of the region through
	// /dev/mem.
	MapMethodDevMem
)

var mapMethodNames = []string{"mmap", "file", "devmem"}

func (m MapMethod) String() string {
	if m >= 0 && int(m) < len(mapMethodNames) {
		return mapMethodNames[m]
	}
	return fmt.Sprintf("MapMethod(%d)", int(m))
}

func ParseMapMethod(s string) (MapMethod, error) {
	for i, n := range mapMethodNames {
		if strings.EqualFold(s, n) {
			return MapMethod(i), nil
		}
	}
	if s == "" {
		return MapMethodMmap, nil
	}
	return 0, fmt.Errorf("unknown map method %q", s)
}

// HostConfig describes the default host backend.
type HostConfig struct {
	// Backend is "auto", "sysfs" or "devpci". Empty means auto.
	Backend string
	// SysfsRoot is where sysfs is mounted, /sys when empty.
	SysfsRoot string
	MapMethod MapMethod
}
