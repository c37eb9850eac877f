package pmem

import "unsafe"

// The accessors below go through non-inlined functions so the compiler
// issues exactly one load or store of the given width on device memory.

//go:noinline
//go:nosplit
func read8(ptr *uint8) uint8 {
	return *ptr
}

//go:noinline
//go:nosplit
func read16(ptr *uint16) uint16 {
	return *ptr
}

//go:noinline
//go:nosplit
func read32(ptr *uint32) uint32 {
	return *ptr
}

//go:noinline
//go:nosplit
func read64(ptr *uint64) uint64 {
	return *ptr
}

//go:noinline
//go:nosplit
func write8(ptr *uint8, val uint8) {
	*ptr = val
}

//go:noinline
//go:nosplit
func write16(ptr *uint16, val uint16) {
	*ptr = val
}

//go:noinline
//go:nosplit
func write32(ptr *uint32, val uint32) {
	*ptr = val
}

//go:noinline
//go:nosplit
func write64(ptr *uint64, val uint64) {
	*ptr = val
}

func (m *MemRegion) Read8(off int64) (uint8, error) {
	if err := m.check(off, 1, false); err != nil {
		return 0, err
	}
	return read8(&m.mem[off]), nil
}

func (m *MemRegion) Read16(off int64) (uint16, error) {
	if err := m.check(off, 2, false); err != nil {
		return 0, err
	}
	return read16((*uint16)(unsafe.Pointer(&m.mem[off]))), nil
}

func (m *MemRegion) Read32(off int64) (uint32, error) {
	if err := m.check(off, 4, false); err != nil {
		return 0, err
	}
	return read32((*uint32)(unsafe.Pointer(&m.mem[off]))), nil
}

func (m *MemRegion) Read64(off int64) (uint64, error) {
	if err := m.check(off, 8, false); err != nil {
		return 0, err
	}
	return read64((*uint64)(unsafe.Pointer(&m.mem[off]))), nil
}

func (m *MemRegion) Write8(off int64, val uint8) error {
	if err := m.check(off, 1, true); err != nil {
		return err
	}
	write8(&m.mem[off], val)
	return nil
}

func (m *MemRegion) Write16(off int64, val uint16) error {
	if err := m.check(off, 2, true); err != nil {
		return err
	}
	write16((*uint16)(unsafe.Pointer(&m.mem[off])), val)
	return nil
}

func (m *MemRegion) Write32(off int64, val uint32) error {
	if err := m.check(off, 4, true); err != nil {
		return err
	}
	write32((*uint32)(unsafe.Pointer(&m.mem[off])), val)
	return nil
}

func (m *MemRegion) Write64(off int64, val uint64) error {
	if err := m.check(off, 8, true); err != nil {
		return err
	}
	write64((*uint64)(unsafe.Pointer(&m.mem[off])), val)
	return nil
}
