package pci

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is the (domain, bus, device, function) tuple identifying one PCI
// function. Domain is 0 on hosts without PCI domains.
type Address struct {
	Domain uint16
	Bus    uint8
	Dev    uint8
	Func   uint8
}

func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Dev, a.Func)
}

// DevFn returns device and function packed in one byte.
func (a Address) DevFn() int {
	return int(a.Dev)*8 + int(a.Func)
}

func (a Address) less(b Address) bool {
	if a.Domain != b.Domain {
		return a.Domain < b.Domain
	}
	if a.Bus != b.Bus {
		return a.Bus < b.Bus
	}
	return a.DevFn() < b.DevFn()
}

// ParseAddress parses "[domain:]bus:dev.func" with hexadecimal fields.
func ParseAddress(s string) (a Address, err error) {
	parts := strings.Split(s, ":")
	var domain, bus, devfn string
	switch len(parts) {
	case 2:
		bus, devfn = parts[0], parts[1]
	case 3:
		domain, bus, devfn = parts[0], parts[1], parts[2]
	default:
		return a, fmt.Errorf("bad pci address %q", s)
	}
	df := strings.Split(devfn, ".")
	if len(df) != 2 {
		return a, fmt.Errorf("bad pci address %q", s)
	}
	fields := []struct {
		s    string
		bits int
		max  uint64
	}{{domain, 16, 0xffff}, {bus, 8, 0xff}, {df[0], 8, 0x1f}, {df[1], 8, 0x7}}
	var v [4]uint64
	for i, f := range fields {
		if f.s == "" && i == 0 {
			continue
		}
		v[i], err = strconv.ParseUint(f.s, 16, f.bits)
		if err != nil || v[i] > f.max {
			return a, fmt.Errorf("bad pci address %q", s)
		}
	}
	return Address{Domain: uint16(v[0]), Bus: uint8(v[1]), Dev: uint8(v[2]), Func: uint8(v[3])}, nil
}
