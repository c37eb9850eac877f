package pmem

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var (
	ErrOutOfRange = errors.New("access outside of region")
	ErrUnaligned  = errors.New("unaligned access")
	ErrReadOnly   = errors.New("region is mapped read-only")
	ErrClosed     = errors.New("region is closed")
)

// Region is a window on device registers or memory. Offsets are relative
// to the start of the window. Accesses are naturally aligned and issued
// with their own width.
type Region interface {
	Name() string
	Size() int
	Read8(off int64) (uint8, error)
	Read16(off int64) (uint16, error)
	Read32(off int64) (uint32, error)
	Read64(off int64) (uint64, error)
	Write8(off int64, val uint8) error
	Write16(off int64, val uint16) error
	Write32(off int64, val uint32) error
	Write64(off int64, val uint64) error
	// Mem returns the mapped bytes, or nil for regions not backed by a
	// mapping.
	Mem() []byte
	Close() error
}

// MemRegion is a Region over a byte slice, usually an mmap of device
// memory.
type MemRegion struct {
	name     string
	mem      []byte
	writable bool
	release  func() error
}

// NewMemRegion wraps buf. Close does not release buf.
func NewMemRegion(name string, buf []byte, writable bool) *MemRegion {
	return &MemRegion{name: name, mem: buf, writable: writable}
}

func (m *MemRegion) Name() string { return m.name }

func (m *MemRegion) Size() int { return len(m.mem) }

func (m *MemRegion) Mem() []byte { return m.mem }

func (m *MemRegion) Writable() bool { return m.writable }

func (m *MemRegion) Close() error {
	if m.mem == nil {
		return nil
	}
	m.mem = nil
	if m.release != nil {
		rel := m.release
		m.release = nil
		return rel()
	}
	return nil
}

func (m *MemRegion) check(off int64, width int, write bool) error {
	if m.mem == nil {
		return fmt.Errorf("%s: %w", m.name, ErrClosed)
	}
	if off < 0 || off+int64(width) > int64(len(m.mem)) {
		return fmt.Errorf("%s: offset %#x width %d: %w", m.name, off, width, ErrOutOfRange)
	}
	if off&int64(width-1) != 0 {
		return fmt.Errorf("%s: offset %#x width %d: %w", m.name, off, width, ErrUnaligned)
	}
	if write && !m.writable {
		return fmt.Errorf("%s: %w", m.name, ErrReadOnly)
	}
	return nil
}

const pageSize = 4096

func pageRound(n int) int {
	return n + (-n)&(pageSize-1)
}

// MapFile maps size bytes of path at offset off, typically a sysfs
// resourceN file. The mapping is shared, so writes reach the device.
func MapFile(name, path string, off int64, size int, write bool) (*MemRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%s: size %d: %w", name, size, ErrOutOfRange)
	}
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if write {
		flag, prot = os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	// The mapping outlives the descriptor.
	defer f.Close()
	data, err := unix.Mmap(int(f.Fd()), off, pageRound(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &MemRegion{
		name:     name,
		mem:      data[:size],
		writable: write,
		release:  func() error { return unix.Munmap(data) },
	}, nil
}
