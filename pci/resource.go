package pci

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Linux resource flags, as found in sysfs resource files.
const (
	ioresourceIO       = 0x00000100
	ioresourceMem      = 0x00000200
	ioresourcePrefetch = 0x00002000
	ioresourceMem64    = 0x00100000
)

// romResource is the line of the expansion ROM in a resource file.
const romResource = 6

// parseResource decodes a sysfs resource file: one "start end flags" line
// per resource, BARs first, then the ROM.
func parseResource(r io.Reader) (bars [NumRegions]RawBAR, romSize uint64, err error) {
	sc := bufio.NewScanner(r)
	for i := 0; sc.Scan() && i <= romResource; i++ {
		f := strings.Fields(sc.Text())
		if len(f) != 3 {
			return bars, 0, fmt.Errorf("resource line %d: %q: %w", i, sc.Text(), ErrMalformed)
		}
		var v [3]uint64
		for j := range f {
			v[j], err = strconv.ParseUint(f[j], 0, 64)
			if err != nil {
				return bars, 0, fmt.Errorf("resource line %d: %w", i, err)
			}
		}
		start, end, flags := v[0], v[1], v[2]
		if end <= start {
			continue
		}
		size := end - start + 1
		if i == romResource {
			romSize = size
			break
		}
		b := RawBAR{Base: start, Size: size}
		switch {
		case flags&ioresourceIO != 0:
			b.Bits = PCI_BASE_ADDRESS_SPACE_IO
		case flags&ioresourceMem != 0:
			if flags&ioresourceMem64 != 0 {
				b.Bits |= PCI_BASE_ADDRESS_MEM_TYPE_64
			}
			if flags&ioresourcePrefetch != 0 {
				b.Bits |= PCI_BASE_ADDRESS_MEM_PREFETCH
			}
		default:
			continue
		}
		bars[i] = b
	}
	return bars, romSize, sc.Err()
}
