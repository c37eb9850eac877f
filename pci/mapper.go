package pci

import (
	"go.uber.org/multierr"
)

// MapRegion maps region index of a probed device into the process. With
// write the mapping is writable. Mapping an already mapped region does
// nothing, unless it is mapped read-only and write is asked, which fails
// with ErrAlreadyMapped.
func (d *Device) MapRegion(index int, write bool) error {
	if err := d.checkRegion(index); err != nil {
		return err
	}
	r := &d.Regions[index]
	if r.mem != nil {
		if write && !r.writable {
			return &MapError{Addr: d.Address, Index: index, Err: ErrAlreadyMapped}
		}
		return nil
	}
	if r.Size == 0 {
		return &MapError{Addr: d.Address, Index: index, Err: ErrUnmappableRegion}
	}
	mem, err := d.sys.backend.MapRegion(d.Address, index, *r, write)
	if err != nil {
		return &MapError{Addr: d.Address, Index: index, Err: err}
	}
	r.mem = mem
	r.writable = write
	d.sys.log.V(1).Info("Mapped region", "device", d.Address.String(), "region", index, "size", r.Size, "write", write)
	return nil
}

// UnmapRegion releases the mapping of region index. Unmapping a region
// that is not mapped does nothing.
func (d *Device) UnmapRegion(index int) error {
	if err := d.checkRegion(index); err != nil {
		return err
	}
	return d.unmap(index)
}

func (d *Device) checkRegion(index int) error {
	if err := d.check(); err != nil {
		return &MapError{Addr: d.Address, Index: index, Err: err}
	}
	if index < 0 || index >= NumRegions {
		return &MapError{Addr: d.Address, Index: index, Err: ErrInvalidRegion}
	}
	if !d.probed {
		return &MapError{Addr: d.Address, Index: index, Err: ErrNotProbed}
	}
	return nil
}

func (d *Device) unmap(index int) error {
	r := &d.Regions[index]
	if r.mem == nil {
		return nil
	}
	if err := r.mem.Close(); err != nil {
		return &MapError{Addr: d.Address, Index: index, Err: err}
	}
	r.mem = nil
	r.writable = false
	d.sys.log.V(1).Info("Unmapped region", "device", d.Address.String(), "region", index)
	return nil
}

// unmapAll releases every mapping of the device.
func (d *Device) unmapAll() (errs error) {
	for i := range d.Regions {
		errs = multierr.Append(errs, d.unmap(i))
	}
	return
}
