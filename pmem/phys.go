package pmem

import (
	"fmt"

	periphpmem "periph.io/x/periph/host/pmem"
)

// MapPhys maps size bytes of physical memory at addr through /dev/mem.
// The host mapping is always read-write; without write the returned region
// refuses stores.
func MapPhys(name string, addr uint64, size int, write bool) (*MemRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%s: size %d: %w", name, size, ErrOutOfRange)
	}
	v, err := periphpmem.Map(addr, pageRound(size))
	if err != nil {
		return nil, fmt.Errorf("%s: map %#x: %w", name, addr, err)
	}
	return &MemRegion{
		name:     name,
		mem:      []byte(v.Slice)[:size],
		writable: write,
		release:  v.Close,
	}, nil
}
