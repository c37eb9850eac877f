package pci

import "github.com/lprylli/pciaccess/pmem"

// Identity holds the fields read from a device configuration header at
// enumeration time.
type Identity struct {
	VendorID    uint16
	DeviceID    uint16
	SubvendorID uint16
	SubdeviceID uint16
	// Class is the 24-bit class, subclass and programming interface.
	Class      uint32
	Revision   uint8
	HeaderType uint8
}

// RawDevice is one entry of a backend inventory. A backend fills Header
// with the first bytes of configuration space when it has them, Ident when
// it gets identity fields another way, and Err when the entry could not be
// read. Header wins over Ident.
type RawDevice struct {
	Addr   Address
	Ident  *Identity
	Header []byte
	Err    error
}

// RawBAR is a backend's description of one BAR. Bits carries the low
// nibble of the BAR register (space, memory type, prefetch).
type RawBAR struct {
	Base    uint64
	BusAddr uint64
	Size    uint64
	Bits    uint32
}

// ProbeInfo is what a backend knows about the resources of one device.
// IRQ is NoIRQ when the device has no interrupt.
type ProbeInfo struct {
	BARs    [NumRegions]RawBAR
	ROMSize uint64
	IRQ     int
}

// Backend is the host mechanism behind a System.
//
// Enumerate lists the devices visible to the host. ReadConfig and
// WriteConfig move bytes within configuration space and may transfer fewer
// bytes than asked. MapRegion maps region index of a device, whose decoded
// descriptor is r, into the process; it fails with ErrUnmappableRegion for
// regions it cannot map with the requested permission. Close releases
// cached host handles; a closed backend may be enumerated again.
type Backend interface {
	Enumerate() ([]RawDevice, error)
	Probe(a Address) (ProbeInfo, error)
	ConfigSize(a Address) int
	ReadConfig(a Address, p []byte, off int) (int, error)
	WriteConfig(a Address, p []byte, off int) (int, error)
	MapRegion(a Address, index int, r Region, write bool) (pmem.Region, error)
	Close() error
}

// ROMReader is implemented by backends able to read expansion ROMs.
type ROMReader interface {
	ReadROM(a Address) ([]byte, error)
}

// headerSize covers the identity fields of every header type, including
// the CardBus subsystem ids at 0x40.
const headerSize = 0x48

// decodeHeader extracts the identity of a device from its raw
// configuration header.
func decodeHeader(h []byte) (id Identity, err error) {
	if len(h) < 0x30 {
		return id, ErrMalformed
	}
	id.VendorID = le.Uint16(h[PCI_VENDOR_ID:])
	id.DeviceID = le.Uint16(h[PCI_DEVICE_ID:])
	if id.VendorID == 0xffff || id.VendorID == 0 {
		return id, ErrNoDevice
	}
	id.Revision = h[PCI_REVISION_ID]
	id.Class = uint32(h[PCI_CLASS_PROG]) | uint32(h[PCI_CLASS_PROG+1])<<8 | uint32(h[PCI_CLASS_PROG+2])<<16
	id.HeaderType = h[PCI_HEADER_TYPE] & 0x7f
	switch id.HeaderType {
	case PCI_HEADER_TYPE_NORMAL:
		id.SubvendorID = le.Uint16(h[PCI_SUBSYSTEM_VID:])
		id.SubdeviceID = le.Uint16(h[PCI_SUBSYSTEM_ID:])
	case PCI_HEADER_TYPE_CB:
		if len(h) >= PCI_CB_SUBSYSTEM_ID+2 {
			id.SubvendorID = le.Uint16(h[PCI_CB_SUBSYSTEM_VID:])
			id.SubdeviceID = le.Uint16(h[PCI_CB_SUBSYSTEM_ID:])
		}
	}
	return id, nil
}

// numBARs returns how many BARs a header type has.
func numBARs(headerType uint8) int {
	switch headerType {
	case PCI_HEADER_TYPE_BRIDGE:
		return 2
	case PCI_HEADER_TYPE_CB:
		return 1
	}
	return NumRegions
}
