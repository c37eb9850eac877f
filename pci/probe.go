package pci

// Probe loads the regions, expansion ROM size and IRQ of the device. It
// does the work once; later calls return nil. On failure the device is
// left as it was.
func (d *Device) Probe() error {
	if err := d.check(); err != nil {
		return &ProbeError{Addr: d.Address, Err: err}
	}
	if d.probed {
		return nil
	}
	info, err := d.sys.backend.Probe(d.Address)
	if err != nil {
		return &ProbeError{Addr: d.Address, Err: err}
	}
	d.fillBusAddrs(&info)
	d.Regions = decodeRegions(info.BARs)
	d.ROMSize = info.ROMSize
	d.IRQ = info.IRQ
	if d.IRQ < 0 {
		d.IRQ = NoIRQ
	}
	d.probed = true
	d.sys.log.V(1).Info("Probed pci device", "device", d.Address.String(), "irq", d.IRQ, "romSize", d.ROMSize)
	return nil
}

// decodeRegions applies the BAR layout rules: I/O regions carry no memory
// flags, and a 64-bit BAR uses the next slot, which is left zeroed.
func decodeRegions(bars [NumRegions]RawBAR) (regions [NumRegions]Region) {
	for i := 0; i < NumRegions; i++ {
		b := bars[i]
		if b.Size == 0 && b.Base == 0 {
			continue
		}
		r := Region{BaseAddr: b.Base, BusAddr: b.BusAddr, Size: b.Size}
		is64 := false
		if b.Bits&PCI_BASE_ADDRESS_SPACE_IO != 0 {
			r.Flags, _ = NewRegionFlags(RegionIO)
		} else {
			var flags []RegionFlag
			if b.Bits&PCI_BASE_ADDRESS_MEM_PREFETCH != 0 {
				flags = append(flags, RegionPrefetchable)
			}
			// A 64-bit BAR in the last slot has no upper half.
			if b.Bits&PCI_BASE_ADDRESS_MEM_TYPE == PCI_BASE_ADDRESS_MEM_TYPE_64 && i+1 < NumRegions {
				flags = append(flags, Region64)
				is64 = true
			}
			r.Flags, _ = NewRegionFlags(flags...)
		}
		regions[i] = r
		if is64 {
			i++
		}
	}
	return
}

// fillBusAddrs sets the bus address of BARs the backend left without one
// from the BAR registers in configuration space.
func (d *Device) fillBusAddrs(info *ProbeInfo) {
	n := numBARs(d.HeaderType)
	for i := 0; i < n; i++ {
		b := &info.BARs[i]
		if b.Size == 0 || b.BusAddr != 0 {
			continue
		}
		b.BusAddr = b.Base
		lo, err := d.ReadConfig32(PCI_BASE_ADDRESS_0 + 4*i)
		if err != nil {
			continue
		}
		if lo&PCI_BASE_ADDRESS_SPACE_IO != 0 {
			b.BusAddr = uint64(lo & PCI_BASE_ADDRESS_IO_MASK)
			continue
		}
		addr := uint64(lo & PCI_BASE_ADDRESS_MEM_MASK)
		if lo&PCI_BASE_ADDRESS_MEM_TYPE == PCI_BASE_ADDRESS_MEM_TYPE_64 && i+1 < n {
			hi, err := d.ReadConfig32(PCI_BASE_ADDRESS_0 + 4*(i+1))
			if err != nil {
				continue
			}
			addr |= uint64(hi) << 32
		}
		if addr != 0 {
			b.BusAddr = addr
		}
	}
}
