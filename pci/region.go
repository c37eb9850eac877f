package pci

import (
	"fmt"

	"github.com/lprylli/pciaccess/pmem"
)

// RegionFlag names one property of a region.
type RegionFlag uint8

const (
	RegionIO RegionFlag = 1 << iota
	RegionPrefetchable
	Region64
)

// RegionFlags is a validated set of RegionFlag. The zero value describes a
// 32-bit non-prefetchable memory region.
type RegionFlags struct {
	set RegionFlag
}

// NewRegionFlags builds a flag set. I/O regions cannot be prefetchable or
// 64-bit.
func NewRegionFlags(flags ...RegionFlag) (RegionFlags, error) {
	var f RegionFlags
	for _, x := range flags {
		f.set |= x
	}
	if f.set&RegionIO != 0 && f.set&(RegionPrefetchable|Region64) != 0 {
		return RegionFlags{}, ErrInvalidRegionFlags
	}
	return f, nil
}

func (f RegionFlags) IsIO() bool           { return f.set&RegionIO != 0 }
func (f RegionFlags) IsPrefetchable() bool { return f.set&RegionPrefetchable != 0 }
func (f RegionFlags) Is64() bool           { return f.set&Region64 != 0 }

func (f RegionFlags) String() string {
	if f.IsIO() {
		return "i/o"
	}
	s := "mem32"
	if f.Is64() {
		s = "mem64"
	}
	if f.IsPrefetchable() {
		s += " prefetchable"
	}
	return s
}

// Region describes one base-address-register window of a device.
type Region struct {
	BaseAddr uint64
	// Address of the region as seen from the bus. Differs from BaseAddr on
	// hosts that translate bus addresses.
	BusAddr uint64
	Size    uint64
	Flags   RegionFlags

	mem      pmem.Region
	writable bool
}

// Memory returns the mapping of the region, or nil when it is not mapped.
// The mapping belongs to the Device and is released by UnmapRegion or
// System.Cleanup.
func (r *Region) Memory() pmem.Region { return r.mem }

func (r *Region) Mapped() bool { return r.mem != nil }

// Unused reports a BAR that decodes nothing, including the upper half of a
// 64-bit BAR.
func (r *Region) Unused() bool { return r.Size == 0 && r.BaseAddr == 0 }

func (r Region) String() string {
	if r.Unused() {
		return "{}"
	}
	return fmt.Sprintf("{%s: 0x%x-0x%x}", r.Flags, r.BaseAddr, r.BaseAddr+r.Size-1)
}
