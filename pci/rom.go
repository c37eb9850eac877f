package pci

import "fmt"

// ReadROM returns the expansion ROM image of the device. Backends that
// cannot read ROMs return ErrNotSupported.
func (d *Device) ReadROM() ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	rr, ok := d.sys.backend.(ROMReader)
	if !ok {
		return nil, fmt.Errorf("%s: read rom: %w", d.Address, ErrNotSupported)
	}
	b, err := rr.ReadROM(d.Address)
	if err != nil {
		return nil, fmt.Errorf("%s: read rom: %w", d.Address, err)
	}
	d.sys.log.V(1).Info("Read expansion rom", "device", d.Address.String(), "size", len(b))
	return b, nil
}
