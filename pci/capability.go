package pci

import "errors"

// Capability locates one entry of a capability list in configuration
// space.
type Capability struct {
	ID      uint16
	Version uint8 // extended capabilities only
	Offset  int
}

// A well formed list cannot hold more entries than this.
const (
	maxCaps    = (ConfigSpaceLegacySize - 0x40) / 4
	maxExtCaps = (ConfigSpaceSize - PCI_ECAP_START) / 8
)

// Capabilities returns the legacy capability list of the device, in list
// order. Devices without a list return an empty slice.
func (d *Device) Capabilities() ([]Capability, error) {
	if d.capsValid {
		if err := d.check(); err != nil {
			return nil, &CfgError{Addr: d.Address, Op: "read", Err: err}
		}
		return d.caps, nil
	}
	status, err := d.ReadConfig16(PCI_STATUS)
	if err != nil {
		return nil, err
	}
	var caps []Capability
	if status&PCI_STATUS_CAP_LIST != 0 {
		ptrReg := PCI_CAPABILITY_LIST
		if d.HeaderType == PCI_HEADER_TYPE_CB {
			ptrReg = PCI_CB_CAPABILITY_LIST
		}
		start, err := d.ReadConfig8(ptrReg)
		if err != nil {
			return nil, err
		}
		off := int(start) &^ 3
		for n := 0; off >= 0x40 && off < 0xff && n < maxCaps; n++ {
			cdef, err := d.ReadConfig16(off)
			if errors.Is(err, ErrShortTransfer) {
				// Unprivileged sysfs readers only see the first 64 bytes.
				d.sys.log.V(1).Info("Capability list unreadable", "device", d.Address.String(), "offset", off)
				break
			}
			if err != nil {
				return nil, err
			}
			id := cdef & 0xff
			if id == 0xff {
				break
			}
			caps = append(caps, Capability{ID: id, Offset: off})
			off = int((cdef>>8)&0xff) &^ 3
		}
	}
	d.caps = caps
	d.capsValid = true
	return caps, nil
}

// FindCapability returns the offset of the first legacy capability with id.
func (d *Device) FindCapability(id uint8) (off int, found bool, err error) {
	caps, err := d.Capabilities()
	if err != nil {
		return 0, false, err
	}
	for _, c := range caps {
		if c.ID == uint16(id) {
			return c.Offset, true, nil
		}
	}
	return 0, false, nil
}

// ExtCapabilities walks the PCIe extended capability list. Devices whose
// configuration space stops at 256 bytes have none.
func (d *Device) ExtCapabilities() ([]Capability, error) {
	if err := d.check(); err != nil {
		return nil, &CfgError{Addr: d.Address, Op: "read", Err: err}
	}
	if d.ConfigSize() < ConfigSpaceSize {
		return nil, nil
	}
	var caps []Capability
	off := PCI_ECAP_START
	for n := 0; off != 0 && n < maxExtCaps; n++ {
		// [ next-hdr: 12bit, ver: 4bit, ecap-id: 16bit ]
		cdef, err := d.ReadConfig32(off)
		if err != nil {
			return nil, err
		}
		if cdef == 0 || cdef == ^uint32(0) {
			break
		}
		caps = append(caps, Capability{ID: uint16(cdef), Version: uint8((cdef >> 16) & 0xf), Offset: off})
		off = int(cdef>>20) &^ 3
		if off < PCI_ECAP_START {
			break
		}
	}
	return caps, nil
}

// FindExtCapability returns the offset of the first extended capability
// with id.
func (d *Device) FindExtCapability(id uint16) (off int, found bool, err error) {
	caps, err := d.ExtCapabilities()
	if err != nil {
		return 0, false, err
	}
	for _, c := range caps {
		if c.ID == id {
			return c.Offset, true, nil
		}
	}
	return 0, false, nil
}
