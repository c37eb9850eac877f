package pci

import (
	"fmt"
	"strconv"
	"strings"
)

// MatchAny disables the comparison of a Match id field.
const MatchAny = ^uint32(0)

// Pattern selects devices for an Iterator. The tag of a match is handed
// back to the caller through Iterator.Tag.
type Pattern interface {
	MatchDevice(d *Device) (tag any, ok bool)
}

// Match selects devices by ids and class. Each id field set to MatchAny is
// ignored. The class matches when (class & ClassMask) equals
// (Class & ClassMask), so a zero mask matches every class. Data is never
// interpreted.
type Match struct {
	VendorID    uint32
	DeviceID    uint32
	SubvendorID uint32
	SubdeviceID uint32
	Class       uint32
	ClassMask   uint32
	Data        any
}

// AnyDevice returns a Match with every field wildcarded.
func AnyDevice() Match {
	return Match{VendorID: MatchAny, DeviceID: MatchAny, SubvendorID: MatchAny, SubdeviceID: MatchAny}
}

func idMatches(want uint32, got uint16) bool {
	return want == MatchAny || want == uint32(got)
}

func (m Match) MatchDevice(d *Device) (any, bool) {
	ok := idMatches(m.VendorID, d.VendorID) &&
		idMatches(m.DeviceID, d.DeviceID) &&
		idMatches(m.SubvendorID, d.SubvendorID) &&
		idMatches(m.SubdeviceID, d.SubdeviceID) &&
		d.Class&m.ClassMask == m.Class&m.ClassMask
	if !ok {
		return nil, false
	}
	return m.Data, true
}

// Rules matches a device when any rule does. The tag is the Data of the
// first matching rule.
type Rules []Match

func (r Rules) MatchDevice(d *Device) (any, bool) {
	for _, m := range r {
		if tag, ok := m.MatchDevice(d); ok {
			return tag, true
		}
	}
	return nil, false
}

type anyPattern struct{}

func (anyPattern) MatchDevice(*Device) (any, bool) { return nil, true }

// Filter is a conjunction of id terms parsed by ParseFilter.
type Filter struct {
	Match
	slot struct {
		domain, bus, dev, fn int
	}
	text string
}

func (f *Filter) String() string { return f.text }

func (f *Filter) MatchDevice(d *Device) (any, bool) {
	if _, ok := f.Match.MatchDevice(d); !ok {
		return nil, false
	}
	s := &f.slot
	ok := (s.domain < 0 || s.domain == int(d.Domain)) &&
		(s.bus < 0 || s.bus == int(d.Bus)) &&
		(s.dev < 0 || s.dev == int(d.Dev)) &&
		(s.fn < 0 || s.fn == int(d.Func))
	return nil, ok
}

// ParseFilter parses whitespace separated terms, all of which must hold:
//
//	vendor=HEX device=HEX subvendor=HEX subdevice=HEX
//	class=HEX[/MASK]
//	slot=[[DOMAIN:]BUS:]DEV[.FUNC]
//	[VENDOR]:[DEVICE][:CLASS]
//
// Any id or slot component may be "*" or empty to match everything. A
// class without a mask is compared on the digits given: "03" is the base
// class, "0300" base and subclass, "030000" the full class.
func ParseFilter(s string) (*Filter, error) {
	f := &Filter{Match: AnyDevice(), text: s}
	f.slot.domain, f.slot.bus, f.slot.dev, f.slot.fn = -1, -1, -1, -1
	for _, term := range strings.Fields(s) {
		var err error
		if k, v, ok := strings.Cut(term, "="); ok {
			err = f.setKey(strings.ToLower(k), v)
		} else {
			err = f.setShorthand(term)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadFilter, term, err)
		}
	}
	return f, nil
}

func (f *Filter) setKey(k, v string) (err error) {
	switch k {
	case "vendor":
		f.VendorID, err = parseID(v)
	case "device":
		f.DeviceID, err = parseID(v)
	case "subvendor":
		f.SubvendorID, err = parseID(v)
	case "subdevice":
		f.SubdeviceID, err = parseID(v)
	case "class":
		f.Class, f.ClassMask, err = parseClass(v)
	case "slot":
		err = f.setSlot(v)
	default:
		err = fmt.Errorf("unknown key %q", k)
	}
	return
}

func (f *Filter) setShorthand(term string) (err error) {
	parts := strings.Split(term, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("expected vendor:device[:class]")
	}
	if f.VendorID, err = parseID(parts[0]); err != nil {
		return
	}
	if f.DeviceID, err = parseID(parts[1]); err != nil {
		return
	}
	if len(parts) == 3 {
		f.Class, f.ClassMask, err = parseClass(parts[2])
	}
	return
}

func (f *Filter) setSlot(v string) error {
	var domain, bus, devfn string
	parts := strings.Split(v, ":")
	switch len(parts) {
	case 1:
		devfn = parts[0]
	case 2:
		bus, devfn = parts[0], parts[1]
	case 3:
		domain, bus, devfn = parts[0], parts[1], parts[2]
	default:
		return fmt.Errorf("bad slot")
	}
	dev, fn, _ := strings.Cut(devfn, ".")
	for _, c := range []struct {
		s   string
		dst *int
		max int64
	}{
		{domain, &f.slot.domain, 0xffff},
		{bus, &f.slot.bus, 0xff},
		{dev, &f.slot.dev, 0x1f},
		{fn, &f.slot.fn, 0x7},
	} {
		if c.s == "" || c.s == "*" {
			continue
		}
		x, err := strconv.ParseInt(c.s, 16, 32)
		if err != nil || x < 0 || x > c.max {
			return fmt.Errorf("bad slot component %q", c.s)
		}
		*c.dst = int(x)
	}
	return nil
}

func parseID(s string) (uint32, error) {
	if s == "" || s == "*" {
		return MatchAny, nil
	}
	x, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint32(x), nil
}

func parseClass(s string) (class, mask uint32, err error) {
	if s == "" || s == "*" {
		return 0, 0, nil
	}
	cs, ms, hasMask := strings.Cut(s, "/")
	cs = strings.TrimPrefix(cs, "0x")
	if len(cs) == 0 || len(cs) > 6 {
		return 0, 0, fmt.Errorf("bad class %q", s)
	}
	c, err := strconv.ParseUint(cs, 16, 32)
	if err != nil {
		return 0, 0, err
	}
	if hasMask {
		m, err := strconv.ParseUint(strings.TrimPrefix(ms, "0x"), 16, 32)
		if err != nil || m > 0xffffff {
			return 0, 0, fmt.Errorf("bad class mask %q", ms)
		}
		return uint32(c), uint32(m), nil
	}
	if len(cs)%2 == 1 {
		return 0, 0, fmt.Errorf("class %q needs whole bytes or a mask", s)
	}
	// Left-align a short class on its 24-bit field.
	shift := uint(4 * (6 - len(cs)))
	mask = (0xffffff << shift) & 0xffffff
	return uint32(c) << shift, mask, nil
}
