package pci

import "fmt"

// Device is one PCI function of a System.
//
// Identity fields are filled at enumeration. Regions, ROMSize and IRQ are
// only valid after Probe. A Device is owned by the System that enumerated
// it and stops being usable after System.Cleanup.
type Device struct {
	Address
	Identity

	Regions [NumRegions]Region
	ROMSize uint64
	IRQ     int

	// UserData is free for the caller. The library never reads or
	// releases it.
	UserData any

	sys    *System
	gen    uint64
	probed bool

	caps      []Capability
	capsValid bool
	agp       *AGPInfo
	agpValid  bool
}

func (d *Device) BaseClass() uint8 { return uint8(d.Class >> 16) }
func (d *Device) SubClass() uint8  { return uint8(d.Class >> 8) }
func (d *Device) ProgIF() uint8    { return uint8(d.Class) }

// Probed reports whether Probe has succeeded on the device.
func (d *Device) Probed() bool { return d.probed }

func (d *Device) String() string {
	return fmt.Sprintf("%s %04x:%04x", d.Address, d.VendorID, d.DeviceID)
}

// check fails when the System owning d is not initialized or d belongs to
// an earlier enumeration.
func (d *Device) check() error {
	if d.sys == nil || !d.sys.ready || d.gen != d.sys.gen {
		return ErrNotInitialized
	}
	return nil
}
