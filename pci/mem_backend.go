package pci

import (
	"fmt"

	"github.com/lprylli/pciaccess/pmem"
)

// MemDevice is a simulated device of a MemBackend.
type MemDevice struct {
	Addr Address
	// Config is the configuration space image, 256 or 4096 bytes. Writes
	// through the System land here.
	Config []byte
	// Ident is used when Config is nil.
	Ident *Identity
	BARs  [NumRegions]RawBAR
	ROM   []byte
	IRQ   int
	// Mem holds the contents of mapped regions. A missing buffer is
	// allocated with the region size on first map.
	Mem [NumRegions][]byte

	// EnumErr and ProbeErr make enumeration or probing of the device fail.
	EnumErr  error
	ProbeErr error
}

// MemBackend is a Backend over simulated devices held in memory.
type MemBackend struct {
	devices []*MemDevice
	byAddr  map[Address]*MemDevice
	closes  int
}

func NewMemBackend(devs ...*MemDevice) *MemBackend {
	b := &MemBackend{byAddr: make(map[Address]*MemDevice)}
	for _, d := range devs {
		b.Add(d)
	}
	return b
}

// Add appends a device. It shows up at the next enumeration.
func (b *MemBackend) Add(d *MemDevice) {
	b.devices = append(b.devices, d)
	if _, dup := b.byAddr[d.Addr]; !dup {
		b.byAddr[d.Addr] = d
	}
}

// Closes returns how many times the backend has been closed.
func (b *MemBackend) Closes() int { return b.closes }

func (b *MemBackend) dev(a Address) (*MemDevice, error) {
	d := b.byAddr[a]
	if d == nil {
		return nil, fmt.Errorf("%s: %w", a, ErrNoDevice)
	}
	return d, nil
}

func (b *MemBackend) Enumerate() ([]RawDevice, error) {
	raws := make([]RawDevice, 0, len(b.devices))
	for _, d := range b.devices {
		raw := RawDevice{Addr: d.Addr, Ident: d.Ident, Err: d.EnumErr}
		if d.Config != nil {
			raw.Header = d.Config[:min(len(d.Config), headerSize)]
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func (b *MemBackend) Probe(a Address) (ProbeInfo, error) {
	d, err := b.dev(a)
	if err != nil {
		return ProbeInfo{}, err
	}
	if d.ProbeErr != nil {
		return ProbeInfo{}, d.ProbeErr
	}
	return ProbeInfo{BARs: d.BARs, ROMSize: uint64(len(d.ROM)), IRQ: d.IRQ}, nil
}

func (b *MemBackend) ConfigSize(a Address) int {
	d := b.byAddr[a]
	if d == nil {
		return 0
	}
	return len(d.Config)
}

func (b *MemBackend) ReadConfig(a Address, p []byte, off int) (int, error) {
	d, err := b.dev(a)
	if err != nil {
		return 0, err
	}
	if off > len(d.Config) {
		return 0, ErrOutOfRange
	}
	return copy(p, d.Config[off:]), nil
}

func (b *MemBackend) WriteConfig(a Address, p []byte, off int) (int, error) {
	d, err := b.dev(a)
	if err != nil {
		return 0, err
	}
	if off > len(d.Config) {
		return 0, ErrOutOfRange
	}
	return copy(d.Config[off:], p), nil
}

// MapRegion maps the region buffer. I/O regions are mappable too.
func (b *MemBackend) MapRegion(a Address, index int, r Region, write bool) (pmem.Region, error) {
	d, err := b.dev(a)
	if err != nil {
		return nil, err
	}
	if d.Mem[index] == nil {
		d.Mem[index] = make([]byte, r.Size)
	}
	return pmem.NewMemRegion(fmt.Sprintf("%s/resource%d", a, index), d.Mem[index], write), nil
}

func (b *MemBackend) ReadROM(a Address) ([]byte, error) {
	d, err := b.dev(a)
	if err != nil {
		return nil, err
	}
	if len(d.ROM) == 0 {
		return nil, ErrNotSupported
	}
	return append([]byte(nil), d.ROM...), nil
}

func (b *MemBackend) Close() error {
	b.closes++
	return nil
}

// ConfigImage builds a configuration space image of size bytes holding the
// header fields of id. BARs and capabilities are left to the caller.
func ConfigImage(id Identity, size int) []byte {
	c := make([]byte, size)
	le.PutUint16(c[PCI_VENDOR_ID:], id.VendorID)
	le.PutUint16(c[PCI_DEVICE_ID:], id.DeviceID)
	c[PCI_REVISION_ID] = id.Revision
	c[PCI_CLASS_PROG] = uint8(id.Class)
	c[PCI_CLASS_PROG+1] = uint8(id.Class >> 8)
	c[PCI_CLASS_PROG+2] = uint8(id.Class >> 16)
	c[PCI_HEADER_TYPE] = id.HeaderType
	switch id.HeaderType {
	case PCI_HEADER_TYPE_NORMAL:
		le.PutUint16(c[PCI_SUBSYSTEM_VID:], id.SubvendorID)
		le.PutUint16(c[PCI_SUBSYSTEM_ID:], id.SubdeviceID)
	case PCI_HEADER_TYPE_CB:
		le.PutUint16(c[PCI_CB_SUBSYSTEM_VID:], id.SubvendorID)
		le.PutUint16(c[PCI_CB_SUBSYSTEM_ID:], id.SubdeviceID)
	}
	return c
}
